package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/gantry/graph"
	"github.com/xraph/gantry/id"
	"github.com/xraph/gantry/job"
	"github.com/xraph/gantry/middleware"
	"github.com/xraph/gantry/worker"
)

// recordingStore captures ReleaseJob calls for assertions.
type recordingStore struct {
	mu       sync.Mutex
	released map[string]job.Result

	releaseErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{released: make(map[string]job.Result)}
}

func (s *recordingStore) Enqueue(_ context.Context, _ graph.Node) error { return nil }

func (s *recordingStore) AcquireJob(_ context.Context, _ id.WorkerID) (*job.Description, error) {
	return nil, nil
}

func (s *recordingStore) ReleaseJob(_ context.Context, jobID id.JobID, res job.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releaseErr != nil {
		return s.releaseErr
	}
	s.released[jobID.String()] = res
	return nil
}

func (s *recordingStore) Heartbeat(_ context.Context, _ *job.WorkerStatus) error { return nil }

func (s *recordingStore) result(jobID id.JobID) (job.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.released[jobID.String()]
	return res, ok
}

func newTestExecutor(reg *job.Registry, store job.Store) *worker.Executor {
	logger := slog.Default()
	return worker.NewExecutor(reg, job.NewStaticResolver(), store, logger,
		middleware.Recover(logger),
	)
}

func TestExecutor_Finished(t *testing.T) {
	store := newRecordingStore()
	reg := job.NewRegistry()
	job.RegisterFunc(reg, "ok", func(_ context.Context) (job.Result, error) {
		return job.Finished(), nil
	})

	e := newTestExecutor(reg, store)
	d := &job.Description{ID: id.NewJobID(), Type: "ok"}

	res := e.Execute(context.Background(), d)
	if res.State != job.StateFinished {
		t.Fatalf("state = %q, want %q", res.State, job.StateFinished)
	}
	if res.ExecutionTime <= 0 {
		t.Error("expected positive execution time")
	}

	got, ok := store.result(d.ID)
	if !ok {
		t.Fatal("expected ReleaseJob to be called")
	}
	if got.State != job.StateFinished {
		t.Errorf("released state = %q, want %q", got.State, job.StateFinished)
	}
}

func TestExecutor_HandlerError(t *testing.T) {
	store := newRecordingStore()
	reg := job.NewRegistry()
	job.RegisterFunc(reg, "broken", func(_ context.Context) (job.Result, error) {
		return job.Result{}, errors.New("boom")
	})

	e := newTestExecutor(reg, store)
	due := time.Now().UTC()
	d := &job.Description{ID: id.NewJobID(), Type: "broken", DueAt: due}

	res := e.Execute(context.Background(), d)
	if res.State != job.StateErrored {
		t.Fatalf("state = %q, want %q", res.State, job.StateErrored)
	}
	if !strings.Contains(res.StatusInfo, "boom") {
		t.Errorf("status info %q does not contain %q", res.StatusInfo, "boom")
	}
	if !res.DueAt.Equal(due) {
		t.Errorf("due at = %v, want original %v", res.DueAt, due)
	}

	got, _ := store.result(d.ID)
	if got.State != job.StateErrored {
		t.Errorf("released state = %q, want %q", got.State, job.StateErrored)
	}
}

func TestExecutor_HandlerPanic(t *testing.T) {
	store := newRecordingStore()
	reg := job.NewRegistry()
	job.RegisterFunc(reg, "panicky", func(_ context.Context) (job.Result, error) {
		panic("kaboom")
	})

	e := newTestExecutor(reg, store)
	d := &job.Description{ID: id.NewJobID(), Type: "panicky"}

	res := e.Execute(context.Background(), d)
	if res.State != job.StateErrored {
		t.Fatalf("state = %q, want %q", res.State, job.StateErrored)
	}
	if !strings.Contains(res.StatusInfo, "kaboom") {
		t.Errorf("status info %q does not contain panic value", res.StatusInfo)
	}
}

func TestExecutor_UnregisteredType(t *testing.T) {
	store := newRecordingStore()
	e := newTestExecutor(job.NewRegistry(), store)
	d := &job.Description{ID: id.NewJobID(), Type: "ghost"}

	res := e.Execute(context.Background(), d)
	if res.State != job.StateErrored {
		t.Fatalf("state = %q, want %q", res.State, job.StateErrored)
	}
	if !strings.Contains(res.StatusInfo, "ghost") {
		t.Errorf("status info %q does not name the missing type", res.StatusInfo)
	}

	if _, ok := store.result(d.ID); !ok {
		t.Fatal("lease must be released even when resolution fails")
	}
}

func TestExecutor_Reschedule(t *testing.T) {
	store := newRecordingStore()
	reg := job.NewRegistry()
	due := time.Now().Add(time.Minute)
	job.RegisterFunc(reg, "again", func(_ context.Context) (job.Result, error) {
		return job.Reschedule(due), nil
	})

	e := newTestExecutor(reg, store)
	d := &job.Description{ID: id.NewJobID(), Type: "again"}

	res := e.Execute(context.Background(), d)
	if res.State != job.StateRescheduled {
		t.Fatalf("state = %q, want %q", res.State, job.StateRescheduled)
	}

	got, _ := store.result(d.ID)
	if !got.DueAt.Equal(due) {
		t.Errorf("released due at = %v, want %v", got.DueAt, due)
	}
}

func TestExecutor_ReleaseFailureDoesNotPanic(t *testing.T) {
	store := newRecordingStore()
	store.releaseErr = errors.New("store down")
	reg := job.NewRegistry()
	job.RegisterFunc(reg, "ok", func(_ context.Context) (job.Result, error) {
		return job.Finished(), nil
	})

	e := newTestExecutor(reg, store)
	d := &job.Description{ID: id.NewJobID(), Type: "ok"}

	// Logged and swallowed; lease reclamation is the store's concern.
	res := e.Execute(context.Background(), d)
	if res.State != job.StateFinished {
		t.Fatalf("state = %q, want %q", res.State, job.StateFinished)
	}
}
