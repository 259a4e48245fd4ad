package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type namedProxy struct{ name string }

func (p namedProxy) Name() string { return p.name }
func (namedProxy) ResolveSync(context.Context, string, string) ([]byte, error) {
	return nil, nil
}
func (namedProxy) SubmitAsync(context.Context, string, string) (JobID, error) { return 0, nil }
func (namedProxy) Status(context.Context, JobID) (Status, error)              { return StatusCreated, nil }
func (namedProxy) Response(context.Context, JobID) ([]byte, error)            { return nil, nil }
func (namedProxy) RequestCancellation(context.Context, JobID) error           { return ErrUnknownJob }
func (namedProxy) FinishAsync(context.Context, JobID) error                   { return ErrUnknownJob }

func TestRegistryFirstRegistrationWins(t *testing.T) {
	r := NewRegistry()
	first := namedProxy{name: "rpclib"}
	if err := r.Register(first); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(namedProxy{name: "rpclib"}); !errors.Is(err, ErrDuplicateProxy) {
		t.Fatalf("expected ErrDuplicateProxy, got %v", err)
	}
	p, err := r.Find("rpclib")
	if err != nil || p != first {
		t.Fatalf("expected first proxy, got %v err=%v", p, err)
	}
	if _, err := r.Find("missing"); !errors.Is(err, ErrUnknownProxy) {
		t.Fatalf("expected ErrUnknownProxy, got %v", err)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	names := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	errs := make(chan error, len(names)*8)
	for i := 0; i < 8; i++ {
		for _, name := range names {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				if err := r.Register(namedProxy{name: name}); err != nil && !errors.Is(err, ErrDuplicateProxy) {
					errs <- err
				}
				if _, err := r.Find(name); err != nil {
					errs <- err
				}
			}(name)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	got := r.Names()
	if len(got) != len(names) {
		t.Fatalf("unexpected names: %v", got)
	}
}

func TestStatusFinal(t *testing.T) {
	for _, s := range []Status{StatusCreated, StatusRunning} {
		if s.Final() {
			t.Fatalf("%s should not be final", s)
		}
	}
	for _, s := range []Status{StatusCancelled, StatusFinished, StatusError} {
		if !s.Final() {
			t.Fatalf("%s should be final", s)
		}
	}
	if JobID(42).String() != "42" {
		t.Fatalf("unexpected job id string")
	}
}
