package graph_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/gantry/graph"
)

func TestNewJob_Defaults(t *testing.T) {
	j := graph.NewJob("send-email", []byte(`{}`))

	assert.False(t, j.ID.IsNil())
	assert.Equal(t, "send-email", j.Type)
	assert.Equal(t, "default", j.Queue)
	assert.True(t, j.DueAt.IsZero())
	require.NoError(t, j.Validate())
}

func TestNewJob_Options(t *testing.T) {
	due := time.Now().Add(time.Hour)
	j := graph.NewJob("report", nil, graph.WithQueue("bulk"), graph.WithDueAt(due))

	assert.Equal(t, "bulk", j.Queue)
	assert.Equal(t, due, j.DueAt)
}

func TestValidate_JobWithoutType(t *testing.T) {
	j := graph.NewJob("", nil)
	require.Error(t, j.Validate())
}

func TestValidate_EmptyComposites(t *testing.T) {
	require.Error(t, graph.InSequence().Validate())
	require.Error(t, graph.InSet().Validate())
}

func TestValidate_RecursesIntoChildren(t *testing.T) {
	bad := graph.NewJob("", nil)
	seq := graph.InSequence(graph.NewJob("ok", nil), graph.InSet(bad))
	require.Error(t, seq.Validate())
}

func TestValidate_NestedComposition(t *testing.T) {
	node := graph.InSequence(
		graph.NewJob("extract", nil),
		graph.InSet(
			graph.NewJob("transform-a", nil),
			graph.NewJob("transform-b", nil),
		),
		graph.NewJob("load", nil),
	)
	require.NoError(t, node.Validate())
}

func TestLeaves_DepthFirstOrder(t *testing.T) {
	a := graph.NewJob("a", nil)
	b := graph.NewJob("b", nil)
	c := graph.NewJob("c", nil)
	d := graph.NewJob("d", nil)

	node := graph.InSequence(a, graph.InSet(b, c), d)

	leaves := graph.Leaves(node)
	require.Len(t, leaves, 4)
	assert.Equal(t, a.ID, leaves[0].ID)
	assert.Equal(t, b.ID, leaves[1].ID)
	assert.Equal(t, c.ID, leaves[2].ID)
	assert.Equal(t, d.ID, leaves[3].ID)
}

func TestLeaves_SingleJob(t *testing.T) {
	j := graph.NewJob("only", nil)
	leaves := graph.Leaves(j)
	require.Len(t, leaves, 1)
	assert.Equal(t, j.ID, leaves[0].ID)
}
