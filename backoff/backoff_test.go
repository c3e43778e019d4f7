package backoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/xraph/gantry/backoff"
	"github.com/xraph/gantry/graph"
	"github.com/xraph/gantry/id"
	"github.com/xraph/gantry/job"
	"github.com/xraph/gantry/store/memory"
)

func TestSchedule_SpacesRepresentations(t *testing.T) {
	sched := backoff.New(4, backoff.Fixed(5*time.Second))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// Presentations 1..3 have errored; each grants another, 5s out.
	for attempt := 1; attempt <= 3; attempt++ {
		due, ok := sched.NextDue(now, attempt)
		if !ok {
			t.Fatalf("NextDue(attempt=%d) exhausted, want another presentation", attempt)
		}
		if want := now.Add(5 * time.Second); !due.Equal(want) {
			t.Errorf("NextDue(attempt=%d) = %v, want %v", attempt, due, want)
		}
	}
}

func TestSchedule_ExhaustsBudget(t *testing.T) {
	sched := backoff.New(3, backoff.Fixed(time.Second))
	now := time.Now()

	if _, ok := sched.NextDue(now, 3); ok {
		t.Error("NextDue(attempt=3) granted a 4th presentation beyond a budget of 3")
	}
	if _, ok := sched.NextDue(now, 7); ok {
		t.Error("NextDue past the budget must stay exhausted")
	}
}

func TestSchedule_NilCurveDefaultsJitteredDoubling(t *testing.T) {
	sched := backoff.New(2, nil)
	now := time.Now()

	due, ok := sched.NextDue(now, 1)
	if !ok {
		t.Fatal("expected a re-presentation within budget")
	}
	if due.Before(now) || due.After(now.Add(time.Second)) {
		t.Errorf("default curve gap = %v, want within [0, 1s] for the first retry", due.Sub(now))
	}
}

func TestDefault_ThreePresentations(t *testing.T) {
	sched := backoff.Default()
	now := time.Now()

	if _, ok := sched.NextDue(now, 1); !ok {
		t.Error("default schedule must retry after the first failure")
	}
	if _, ok := sched.NextDue(now, 2); !ok {
		t.Error("default schedule must retry after the second failure")
	}
	if _, ok := sched.NextDue(now, 3); ok {
		t.Error("default schedule allows three presentations total")
	}
}

func TestLinearRamp(t *testing.T) {
	curve := backoff.LinearRamp(2*time.Second, 7*time.Second)

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 6 * time.Second},
		{4, 7 * time.Second}, // capped
		{9, 7 * time.Second},
	}
	for _, tt := range tests {
		if got := curve(tt.retry); got != tt.want {
			t.Errorf("LinearRamp(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestDoubling(t *testing.T) {
	curve := backoff.Doubling(time.Second, 10*time.Second)

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := curve(tt.retry); got != tt.want {
			t.Errorf("Doubling(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestDoubling_UncappedSaturates(t *testing.T) {
	curve := backoff.Doubling(time.Second, 0)

	// Deep enough to overflow int64 nanoseconds if the shift ran
	// unguarded; the gap must stay positive.
	if got := curve(200); got <= 0 {
		t.Errorf("Doubling(200) = %v, want positive saturated gap", got)
	}
}

func TestJittered_StaysWithinGap(t *testing.T) {
	curve := backoff.Jittered(backoff.Fixed(10 * time.Second))

	for range 200 {
		got := curve(1)
		if got < 0 || got > 10*time.Second {
			t.Fatalf("Jittered gap = %v, want within [0, 10s]", got)
		}
	}
}

func TestJittered_Spreads(t *testing.T) {
	curve := backoff.Jittered(backoff.Fixed(time.Minute))

	seen := make(map[time.Duration]bool)
	for range 100 {
		seen[curve(1)] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected spread across the jitter window, got %d distinct gaps", len(seen))
	}
}

func TestJittered_ZeroGap(t *testing.T) {
	curve := backoff.Jittered(backoff.Fixed(0))
	if got := curve(1); got != 0 {
		t.Errorf("Jittered over a zero gap = %v, want 0", got)
	}
}

// The schedule as the store consults it: an errored job is re-presented
// at exactly the due instant the schedule names, then settles as failed
// once the budget is spent.
func TestSchedule_DrivesStoreRetry(t *testing.T) {
	mc := clock.NewMockClock()
	s := memory.New(
		memory.WithClock(mc),
		memory.WithRetrySchedule(backoff.New(2, backoff.Fixed(30*time.Second))),
	)
	worker := id.NewWorkerID()
	ctx := context.Background()

	j := graph.NewJob("flaky", nil)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := s.AcquireJob(ctx, worker)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got == nil {
		t.Fatal("expected a first presentation")
	}
	if err := s.ReleaseJob(ctx, j.ID, job.Failed("transient")); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Before the scheduled instant the job is withheld.
	mc.AddTime(29 * time.Second)
	if got, err = s.AcquireJob(ctx, worker); err != nil {
		t.Fatalf("acquire: %v", err)
	} else if got != nil {
		t.Fatal("job re-presented before its scheduled due instant")
	}

	mc.AddTime(time.Second + time.Millisecond)
	if got, err = s.AcquireJob(ctx, worker); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got == nil {
		t.Fatal("expected the re-presentation at the scheduled instant")
	}
	if got.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", got.Attempt)
	}

	// Budget of two spent: the next failure is terminal.
	if err := s.ReleaseJob(ctx, j.ID, job.Failed("permanent")); err != nil {
		t.Fatalf("release: %v", err)
	}
	rec, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if rec.State != memory.StatusFailed {
		t.Errorf("state = %q, want %q", rec.State, memory.StatusFailed)
	}
}
