package system

import (
	"context"
	"errors"
	"testing"
)

type recordedService struct {
	name     string
	startErr error
	events   *[]string
}

func (s *recordedService) Name() string { return s.name }

func (s *recordedService) Start(context.Context) error {
	*s.events = append(*s.events, "start:"+s.name)
	return s.startErr
}

func (s *recordedService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recordedService{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestManagerStartFailureUnwinds(t *testing.T) {
	var events []string
	m := NewManager()
	_ = m.Register(&recordedService{name: "a", events: &events})
	_ = m.Register(&recordedService{name: "b", startErr: errors.New("boom"), events: &events})
	_ = m.Register(&recordedService{name: "c", events: &events})

	err := m.Start(context.Background())
	if err == nil {
		t.Fatal("expected start error")
	}

	want := []string{"start:a", "start:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestManagerRunsNoopService(t *testing.T) {
	m := NewManager()
	if err := m.Register(NoopService{ServiceName: "placeholder"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestManagerRejectsDuplicatesAndLateRegistration(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(&recordedService{name: "a", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&recordedService{name: "a", events: &events}); err == nil {
		t.Fatal("expected duplicate name error")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(&recordedService{name: "b", events: &events}); err == nil {
		t.Fatal("expected registration after start to fail")
	}
}
