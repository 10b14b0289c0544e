package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"courier/internal/deliverylog"
	"courier/internal/eventbus"
	kit "courier/internal/transport"
	logx "courier/pkg/logx"
)

func newTestService(t *testing.T, cfg Config, adapters ...kit.Adapter) (*Service, eventbus.Bus) {
	t.Helper()
	resolver := mapResolver{"u1": {"tg": "100"}}
	reg, err := kit.NewRegistry(adapters...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	tbl := testTable(t, Strategy{Channels: []string{"tg"}, AttemptTimeout: time.Second})
	orch := NewOrchestrator(reg, resolver, tbl, nil, deliverylog.NewStats(), logx.Nop())
	bus := eventbus.New()
	return NewService(cfg, orch, logx.Nop(), bus), bus
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestServiceSubmitAndDrain(t *testing.T) {
	t.Parallel()
	a := &stubAdapter{name: "tg"}
	svc, bus := newTestService(t, Config{Enabled: true, Workers: 2, QueueSize: 16}, a)

	events, unsub := bus.Subscribe(64)
	defer unsub()

	svc.Start(context.Background())
	for i := 0; i < 3; i++ {
		if err := svc.Submit(context.Background(), Request{
			RecipientID: "u1",
			Message:     Message{Body: "hi"},
		}); err != nil {
			t.Fatalf("Submit #%d: %v", i+1, err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Stop(stopCtx)

	if got := a.callCount(); got != 3 {
		t.Fatalf("provider calls = %d, want 3 (queue drained on stop)", got)
	}
	if got := len(svc.Snapshot()); got != 3 {
		t.Fatalf("history = %d items, want 3", got)
	}
	for _, item := range svc.Snapshot() {
		if !item.Success || item.Channel != "tg" {
			t.Fatalf("history item: %+v", item)
		}
	}

	queued, sent := 0, 0
	for len(events) > 0 {
		ev := <-events
		switch ev.Type {
		case "dispatch.queued":
			queued++
		case "dispatch.sent":
			sent++
		}
	}
	if queued != 3 || sent != 3 {
		t.Fatalf("events: queued=%d sent=%d, want 3/3", queued, sent)
	}
}

func TestServiceDisabled(t *testing.T) {
	t.Parallel()
	a := &stubAdapter{name: "tg"}
	svc, _ := newTestService(t, Config{Enabled: false}, a)
	svc.Start(context.Background())

	err := svc.Submit(context.Background(), Request{RecipientID: "u1", Message: Message{Body: "hi"}})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestServiceSubmitAfterStop(t *testing.T) {
	t.Parallel()
	a := &stubAdapter{name: "tg"}
	svc, _ := newTestService(t, Config{Enabled: true, Workers: 1, QueueSize: 4}, a)
	svc.Start(context.Background())
	svc.Stop(context.Background())

	err := svc.Submit(context.Background(), Request{RecipientID: "u1", Message: Message{Body: "hi"}})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestServiceQueueFull(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	a := &stubAdapter{name: "tg", send: func(ctx context.Context, _ string, _ kit.Message) error {
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
	svc, bus := newTestService(t, Config{Enabled: true, Workers: 1, QueueSize: 1}, a)

	events, unsub := bus.Subscribe(16)
	defer unsub()

	svc.Start(context.Background())
	req := Request{RecipientID: "u1", Message: Message{Body: "hi"}}

	// First request occupies the worker; wait until it is in-flight.
	if err := svc.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit #1: %v", err)
	}
	waitFor(t, func() bool { return a.callCount() == 1 }, "worker never picked up the first request")

	// Second fills the queue; third must be rejected, not block.
	if err := svc.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit #2: %v", err)
	}
	if err := svc.Submit(context.Background(), req); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit #3 err = %v, want ErrQueueFull", err)
	}

	close(gate)
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Stop(stopCtx)

	dropped := 0
	for len(events) > 0 {
		if ev := <-events; ev.Type == "dispatch.dropped" {
			dropped++
		}
	}
	if dropped != 1 {
		t.Fatalf("dropped events = %d, want 1", dropped)
	}
}

func TestServiceHistoryRing(t *testing.T) {
	t.Parallel()
	a := &stubAdapter{name: "tg"}
	svc, _ := newTestService(t, Config{Enabled: true, Workers: 1, QueueSize: 32, HistorySize: 2}, a)
	svc.Start(context.Background())

	for i := 0; i < 5; i++ {
		if err := svc.Submit(context.Background(), Request{RecipientID: "u1", Message: Message{Body: "hi"}}); err != nil {
			t.Fatalf("Submit #%d: %v", i+1, err)
		}
	}
	svc.Stop(context.Background())

	if got := len(svc.Snapshot()); got != 2 {
		t.Fatalf("history = %d, want capped at 2", got)
	}
}
