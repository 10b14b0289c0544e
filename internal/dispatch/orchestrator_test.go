package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"courier/internal/deliverylog"
	kit "courier/internal/transport"
	logx "courier/pkg/logx"
)

type mapResolver map[string]map[string]string

func (m mapResolver) Resolve(recipientID, channel string) (string, bool) {
	addr, ok := m[recipientID][channel]
	return addr, ok && addr != ""
}

func (m mapResolver) Addresses(recipientID string) map[string]string {
	out := map[string]string{}
	for ch, addr := range m[recipientID] {
		out[ch] = addr
	}
	return out
}

type stubAdapter struct {
	name string
	send func(ctx context.Context, address string, msg kit.Message) error

	mu    sync.Mutex
	calls []time.Time
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Send(ctx context.Context, address string, msg kit.Message) (kit.SendResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, time.Now())
	a.mu.Unlock()
	if a.send == nil {
		return kit.SendResult{}, nil
	}
	return kit.SendResult{}, a.send(ctx, address, msg)
}

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *stubAdapter) callAt(i int) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[i]
}

type memStore struct {
	mu      sync.Mutex
	entries []deliverylog.AttemptEntry
}

func (s *memStore) AppendAttempt(ctx context.Context, e deliverylog.AttemptEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) snapshot() []deliverylog.AttemptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]deliverylog.AttemptEntry(nil), s.entries...)
}

func testTable(t *testing.T, strat Strategy) Table {
	t.Helper()
	tbl, err := NewTable(map[Urgency]Strategy{
		UrgencyCritical: strat,
		UrgencyNormal:   strat,
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

func newTestOrchestrator(t *testing.T, strat Strategy, resolver mapResolver, adapters ...kit.Adapter) (*Orchestrator, *memStore) {
	t.Helper()
	reg, err := kit.NewRegistry(adapters...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store := &memStore{}
	o := NewOrchestrator(reg, resolver, testTable(t, strat), store, deliverylog.NewStats(), logx.Nop())
	return o, store
}

func TestDispatchFirstSuccessStops(t *testing.T) {
	t.Parallel()
	a := &stubAdapter{name: "tg"}
	b := &stubAdapter{name: "sms"}
	resolver := mapResolver{"u1": {"tg": "100", "sms": "+628111"}}
	o, store := newTestOrchestrator(t, Strategy{
		Channels:       []string{"tg", "sms"},
		AttemptTimeout: time.Second,
		FallbackDelay:  time.Hour, // must never be paid
	}, resolver, a, b)

	res, err := o.Dispatch(context.Background(), Request{
		RecipientID: "u1",
		Message:     Message{Body: "hello", Urgency: UrgencyCritical},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Success || res.Channel != "tg" || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if b.callCount() != 0 {
		t.Fatal("second channel must not be attempted after success")
	}

	entries := store.snapshot()
	if len(entries) != 1 || entries[0].Outcome != string(kit.OutcomeSent) {
		t.Fatalf("unexpected log entries: %+v", entries)
	}
	if entries[0].CorrelationID == "" {
		t.Fatal("correlation id should be backfilled")
	}
}

func TestDispatchFallbackOrderAndDelay(t *testing.T) {
	t.Parallel()
	const delay = 40 * time.Millisecond
	a := &stubAdapter{name: "tg", send: func(context.Context, string, kit.Message) error {
		return errors.New("gateway unreachable")
	}}
	b := &stubAdapter{name: "sms"}
	resolver := mapResolver{"u1": {"tg": "100", "sms": "+628111"}}
	o, store := newTestOrchestrator(t, Strategy{
		Channels:       []string{"tg", "sms"},
		AttemptTimeout: time.Second,
		FallbackDelay:  delay,
	}, resolver, a, b)

	res, err := o.Dispatch(context.Background(), Request{
		RecipientID: "u1",
		Message:     Message{Body: "hi", Urgency: UrgencyCritical},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Success || res.Channel != "sms" || res.Attempts != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := b.callAt(0).Sub(a.callAt(0)); got < delay {
		t.Fatalf("fallback fired after %v, want >= %v", got, delay)
	}

	entries := store.snapshot()
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(entries))
	}
	if entries[0].Channel != "tg" || entries[0].Outcome != string(kit.OutcomeTransient) {
		t.Fatalf("first entry: %+v", entries[0])
	}
	if entries[1].Channel != "sms" || entries[1].Outcome != string(kit.OutcomeSent) {
		t.Fatalf("second entry: %+v", entries[1])
	}
}

func TestDispatchNoAddressFailsFast(t *testing.T) {
	t.Parallel()
	a := &stubAdapter{name: "tg"}
	o, store := newTestOrchestrator(t, Strategy{
		Channels:       []string{"tg"},
		AttemptTimeout: time.Second,
	}, mapResolver{}, a)

	res, err := o.Dispatch(context.Background(), Request{
		RecipientID: "ghost",
		Message:     Message{Body: "hi"},
	})
	if !errors.Is(err, ErrNoAddress) {
		t.Fatalf("err = %v, want ErrNoAddress", err)
	}
	if res.Attempts != 0 || res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if a.callCount() != 0 {
		t.Fatal("no provider call expected")
	}
	if len(store.snapshot()) != 0 {
		t.Fatal("no log records expected")
	}
}

func TestDispatchSkipsUnresolvedChannelWithoutDelay(t *testing.T) {
	t.Parallel()
	a := &stubAdapter{name: "tg"}
	b := &stubAdapter{name: "sms"}
	// Recipient reachable only by SMS.
	resolver := mapResolver{"u1": {"sms": "+628111"}}
	o, store := newTestOrchestrator(t, Strategy{
		Channels:       []string{"tg", "sms"},
		AttemptTimeout: time.Second,
		FallbackDelay:  time.Hour, // a skip must not pay this
	}, resolver, a, b)

	start := time.Now()
	res, err := o.Dispatch(context.Background(), Request{
		RecipientID: "u1",
		Message:     Message{Body: "hi", Urgency: UrgencyCritical},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("skipped channel paid the fallback delay")
	}
	if !res.Success || res.Channel != "sms" || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if a.callCount() != 0 {
		t.Fatal("unresolved channel must not be attempted")
	}

	entries := store.snapshot()
	if len(entries) != 2 {
		t.Fatalf("want 2 entries (skip + sent), got %d", len(entries))
	}
	if entries[0].Outcome != string(kit.OutcomeNoAddress) || entries[0].Channel != "tg" {
		t.Fatalf("skip entry: %+v", entries[0])
	}
}

func TestDispatchExhaustionIsNotAnError(t *testing.T) {
	t.Parallel()
	fail := func(context.Context, string, kit.Message) error { return errors.New("down") }
	a := &stubAdapter{name: "tg", send: fail}
	b := &stubAdapter{name: "sms", send: fail}
	resolver := mapResolver{"u1": {"tg": "100", "sms": "+628111"}}
	o, _ := newTestOrchestrator(t, Strategy{
		Channels:       []string{"tg", "sms"},
		AttemptTimeout: time.Second,
		FallbackDelay:  time.Millisecond,
	}, resolver, a, b)

	res, err := o.Dispatch(context.Background(), Request{
		RecipientID: "u1",
		Message:     Message{Body: "hi", Urgency: UrgencyCritical},
	})
	if err != nil {
		t.Fatalf("exhaustion must not be an error, got %v", err)
	}
	if res.Success || res.Channel != "" || res.Attempts != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDispatchPermanentRejectionMovesToNextChannel(t *testing.T) {
	t.Parallel()
	a := &stubAdapter{name: "tg", send: func(context.Context, string, kit.Message) error {
		return kit.Permanentf("chat not found")
	}}
	b := &stubAdapter{name: "sms"}
	resolver := mapResolver{"u1": {"tg": "100", "sms": "+628111"}}
	o, store := newTestOrchestrator(t, Strategy{
		Channels:       []string{"tg", "sms"},
		AttemptTimeout: time.Second,
		FallbackDelay:  time.Millisecond,
	}, resolver, a, b)

	res, err := o.Dispatch(context.Background(), Request{
		RecipientID: "u1",
		Message:     Message{Body: "hi", Urgency: UrgencyCritical},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Success || res.Channel != "sms" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if store.snapshot()[0].Outcome != string(kit.OutcomeRejected) {
		t.Fatalf("first entry should be rejected: %+v", store.snapshot()[0])
	}
}

func TestDispatchAttemptBudgetCapsChannels(t *testing.T) {
	t.Parallel()
	fail := func(context.Context, string, kit.Message) error { return errors.New("down") }
	a := &stubAdapter{name: "tg", send: fail}
	b := &stubAdapter{name: "sms", send: fail}
	resolver := mapResolver{"u1": {"tg": "100", "sms": "+628111"}}
	o, _ := newTestOrchestrator(t, Strategy{
		Channels:       []string{"tg", "sms"},
		AttemptTimeout: time.Second,
		FallbackDelay:  time.Millisecond,
		MaxAttempts:    1,
	}, resolver, a, b)

	res, err := o.Dispatch(context.Background(), Request{
		RecipientID: "u1",
		Message:     Message{Body: "hi", Urgency: UrgencyCritical},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", res.Attempts)
	}
	if b.callCount() != 0 {
		t.Fatal("budget exhausted, second channel must not be attempted")
	}
}

func TestDispatchAttemptTimeoutIsRecorded(t *testing.T) {
	t.Parallel()
	a := &stubAdapter{name: "tg", send: func(ctx context.Context, _ string, _ kit.Message) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	resolver := mapResolver{"u1": {"tg": "100"}}
	o, store := newTestOrchestrator(t, Strategy{
		Channels:       []string{"tg"},
		AttemptTimeout: 20 * time.Millisecond,
	}, resolver, a)

	res, err := o.Dispatch(context.Background(), Request{
		RecipientID: "u1",
		Message:     Message{Body: "hi"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if got := store.snapshot()[0].Outcome; got != string(kit.OutcomeTimeout) {
		t.Fatalf("outcome = %s, want timeout", got)
	}
}

func TestDispatchCancelDuringFallbackDelay(t *testing.T) {
	t.Parallel()
	a := &stubAdapter{name: "tg", send: func(context.Context, string, kit.Message) error {
		return errors.New("down")
	}}
	b := &stubAdapter{name: "sms"}
	resolver := mapResolver{"u1": {"tg": "100", "sms": "+628111"}}
	o, _ := newTestOrchestrator(t, Strategy{
		Channels:       []string{"tg", "sms"},
		AttemptTimeout: time.Second,
		FallbackDelay:  time.Hour,
	}, resolver, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := o.Dispatch(ctx, Request{
		RecipientID: "u1",
		Message:     Message{Body: "hi", Urgency: UrgencyCritical},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation did not interrupt the fallback wait")
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", res.Attempts)
	}
	if b.callCount() != 0 {
		t.Fatal("no further channel after cancellation")
	}
}

func TestDispatchRejectsMalformedRequests(t *testing.T) {
	t.Parallel()
	a := &stubAdapter{name: "tg"}
	o, _ := newTestOrchestrator(t, Strategy{
		Channels:       []string{"tg"},
		AttemptTimeout: time.Second,
	}, mapResolver{"u1": {"tg": "100"}}, a)

	if _, err := o.Dispatch(context.Background(), Request{Message: Message{Body: "hi"}}); err == nil {
		t.Fatal("missing recipient must be rejected")
	}
	if _, err := o.Dispatch(context.Background(), Request{RecipientID: "u1"}); err == nil {
		t.Fatal("empty body must be rejected")
	}
	if a.callCount() != 0 {
		t.Fatal("no provider calls for malformed requests")
	}
}

func TestDispatchSameCorrelationIDIsNotDeduplicated(t *testing.T) {
	t.Parallel()
	a := &stubAdapter{name: "tg"}
	resolver := mapResolver{"u1": {"tg": "100"}}
	o, store := newTestOrchestrator(t, Strategy{
		Channels:       []string{"tg"},
		AttemptTimeout: time.Second,
	}, resolver, a)

	req := Request{
		RecipientID: "u1",
		Message:     Message{Body: "hi", CorrelationID: "corr-1"},
	}
	for i := 0; i < 2; i++ {
		if _, err := o.Dispatch(context.Background(), req); err != nil {
			t.Fatalf("Dispatch #%d: %v", i+1, err)
		}
	}
	if a.callCount() != 2 {
		t.Fatalf("calls = %d, want 2 (no dedup on correlation id)", a.callCount())
	}
	if len(store.snapshot()) != 2 {
		t.Fatal("both dispatches must be logged")
	}
}
