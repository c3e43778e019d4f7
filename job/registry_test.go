package job_test

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/xraph/gantry/job"
)

type emailInput struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := job.NewRegistry()

	var got emailInput
	def := job.NewDefinition("send-email", func(_ context.Context, in emailInput) (job.Result, error) {
		got = in
		return job.Finished(), nil
	})

	job.RegisterDefinition(r, def)

	f, ok := r.Lookup("send-email")
	if !ok {
		t.Fatal("expected factory to be registered")
	}

	h, err := f(job.NewStaticResolver())
	if err != nil {
		t.Fatalf("factory error: %v", err)
	}

	input, _ := json.Marshal(emailInput{To: "alice@example.com", Subject: "Hello"})
	res, err := h(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != job.StateFinished {
		t.Errorf("state = %q, want %q", res.State, job.StateFinished)
	}
	if got.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", got.To, "alice@example.com")
	}
	if got.Subject != "Hello" {
		t.Errorf("Subject = %q, want %q", got.Subject, "Hello")
	}
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := job.NewRegistry()
	_, ok := r.Lookup("nonexistent")
	if ok {
		t.Fatal("expected no factory for unregistered job type")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterFunc(r, "job-a", func(_ context.Context) (job.Result, error) { return job.Finished(), nil })
	job.RegisterFunc(r, "job-b", func(_ context.Context) (job.Result, error) { return job.Finished(), nil })
	job.RegisterFunc(r, "job-c", func(_ context.Context) (job.Result, error) { return job.Finished(), nil })

	names := r.Names()
	sort.Strings(names)
	if len(names) != 3 {
		t.Fatalf("expected 3 names, got %d", len(names))
	}
	expected := []string{"job-a", "job-b", "job-c"}
	for i, want := range expected {
		if names[i] != want {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want)
		}
	}
}

func TestRegistry_InvalidInput(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("typed-job", func(_ context.Context, _ emailInput) (job.Result, error) {
		t.Fatal("handler should not be called with invalid JSON")
		return job.Finished(), nil
	}))

	f, _ := r.Lookup("typed-job")
	h, err := f(job.NewStaticResolver())
	if err != nil {
		t.Fatalf("factory error: %v", err)
	}
	if _, err := h(context.Background(), []byte(`{invalid json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestRegistry_EmptyInput(t *testing.T) {
	r := job.NewRegistry()
	called := false
	job.RegisterDefinition(r, job.NewDefinition("no-input", func(_ context.Context, _ struct{}) (job.Result, error) {
		called = true
		return job.Finished(), nil
	}))

	f, _ := r.Lookup("no-input")
	h, _ := f(job.NewStaticResolver())
	if _, err := h(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty input")
	}
}

func TestRegistry_MsgpackCodec(t *testing.T) {
	r := job.NewRegistry()

	var got emailInput
	def := job.NewDefinition("send-email-mp", func(_ context.Context, in emailInput) (job.Result, error) {
		got = in
		return job.Finished(), nil
	})
	def.Codec = job.MsgpackCodec{}
	job.RegisterDefinition(r, def)

	input, err := job.MsgpackCodec{}.Marshal(emailInput{To: "bob@example.com"})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	f, _ := r.Lookup("send-email-mp")
	h, _ := f(job.NewStaticResolver())
	if _, err := h(context.Background(), input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.To != "bob@example.com" {
		t.Errorf("To = %q, want %q", got.To, "bob@example.com")
	}
}

func TestRegistry_BuildWithResolver(t *testing.T) {
	r := job.NewRegistry()
	resolver := job.NewStaticResolver()
	resolver.Provide("greeting", "hello")

	var seen string
	def := &job.Definition[struct{}]{
		Name: "needs-service",
		Build: func(res job.Resolver) (func(context.Context, struct{}) (job.Result, error), error) {
			svc, ok := res.Resolve("greeting")
			if !ok {
				t.Fatal("expected greeting service")
			}
			greeting := svc.(string)
			return func(_ context.Context, _ struct{}) (job.Result, error) {
				seen = greeting
				return job.Finished(), nil
			}, nil
		},
	}
	job.RegisterDefinition(r, def)

	f, _ := r.Lookup("needs-service")
	h, err := f(resolver)
	if err != nil {
		t.Fatalf("factory error: %v", err)
	}
	if _, err := h(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "hello" {
		t.Errorf("seen = %q, want %q", seen, "hello")
	}
}
