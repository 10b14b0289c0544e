package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"courier/internal/eventbus"
	logx "courier/pkg/logx"
)

var (
	ErrDisabled  = errors.New("dispatch engine disabled")
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatch engine stopped")
)

// Config controls the async dispatch engine.
type Config struct {
	Enabled     bool
	Workers     int
	QueueSize   int
	HistorySize int
}

// HistoryItem is one finished dispatch kept in the in-memory ring for
// operator visibility.
type HistoryItem struct {
	At            time.Time
	CorrelationID string
	RecipientID   string
	Urgency       Urgency
	Success       bool
	Channel       string
	Attempts      int
	Elapsed       time.Duration
	Error         string
}

// DispatchEvent is emitted on the event bus for dispatch lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type DispatchEvent struct {
	CorrelationID string        `json:"correlation_id"`
	RecipientID   string        `json:"recipient_id"`
	Urgency       Urgency       `json:"urgency"`
	Channel       string        `json:"channel,omitempty"`
	Attempts      int           `json:"attempts,omitempty"`
	Elapsed       time.Duration `json:"elapsed,omitempty"`
	At            time.Time     `json:"at"`
	Error         string        `json:"error,omitempty"`
}

// Service runs dispatches asynchronously: bounded queue + worker pool on top
// of the Orchestrator. Each queued dispatch walks its channel ladder
// independently; the pool only bounds how many run at once.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	orch *Orchestrator
	bus  eventbus.Bus

	cfg Config

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan Request
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// In-memory history (for status/diagnostics)
	hmu     sync.Mutex
	history []HistoryItem
}

func NewService(cfg Config, orch *Orchestrator, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{orch: orch, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	s.cfg = cfg
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		// already running
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan Request, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch worker", logx.Int("worker", i), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			s.workerLoop()
		}()
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	// Block new submits.
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues to finish, then close the queue so workers can drain.
	ch := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	// Now it's safe to close the queue.
	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	// Wait for workers.
	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	case <-done:
		if cancel != nil {
			cancel()
		}
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()
}

// Submit enqueues one dispatch for asynchronous delivery.
//
// Backpressure is explicit: a full queue returns ErrQueueFull instead of
// blocking the business flow that triggered the notification.
func (s *Service) Submit(ctx context.Context, req Request) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if s.bus != nil {
		now := time.Now()
		s.bus.Publish(eventbus.Event{Type: "dispatch.queued", Time: now, Data: DispatchEvent{
			CorrelationID: req.Message.CorrelationID,
			RecipientID:   req.RecipientID,
			Urgency:       req.Message.Urgency,
			At:            now,
		}})
	}

	select {
	case q <- req:
		return nil
	default:
		if s.bus != nil {
			now := time.Now()
			s.bus.Publish(eventbus.Event{Type: "dispatch.dropped", Time: now, Data: DispatchEvent{
				CorrelationID: req.Message.CorrelationID,
				RecipientID:   req.RecipientID,
				Urgency:       req.Message.Urgency,
				At:            now,
				Error:         ErrQueueFull.Error(),
			}})
		}
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) workerLoop() {
	// Copy stable references.
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for req := range q {
		// If the app is stopping, stop quickly.
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
		s.runOne(runCtx, req)
	}
}

func (s *Service) runOne(runCtx context.Context, req Request) {
	if runCtx == nil {
		runCtx = context.Background()
	}

	res, err := s.orch.Dispatch(runCtx, req)

	item := HistoryItem{
		At:            time.Now(),
		CorrelationID: req.Message.CorrelationID,
		RecipientID:   req.RecipientID,
		Urgency:       req.Message.Urgency,
		Success:       res.Success,
		Channel:       res.Channel,
		Attempts:      res.Attempts,
		Elapsed:       res.Elapsed,
	}
	if err != nil {
		item.Error = err.Error()
	}
	s.appendHistory(item)

	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := DispatchEvent{
		CorrelationID: req.Message.CorrelationID,
		RecipientID:   req.RecipientID,
		Urgency:       req.Message.Urgency,
		Channel:       res.Channel,
		Attempts:      res.Attempts,
		Elapsed:       res.Elapsed,
		At:            now,
		Error:         item.Error,
	}
	if res.Success {
		s.bus.Publish(eventbus.Event{Type: "dispatch.sent", Time: now, Data: ev})
	} else {
		s.bus.Publish(eventbus.Event{Type: "dispatch.failed", Time: now, Data: ev})
	}
}

func (s *Service) appendHistory(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	if size <= 0 {
		size = 200
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
