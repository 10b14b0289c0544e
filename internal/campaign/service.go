// Package campaign runs recurring scheduled dispatches: reminder blasts,
// digest pushes, compliance nags. Each campaign names its recipients, an
// urgency, and a schedule; on every tick the campaign is submitted to the
// dispatch engine once per recipient, and each dispatch walks its own
// channel ladder independently.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"courier/internal/dispatch"
	logx "courier/pkg/logx"
)

// Definition is one configured campaign.
type Definition struct {
	Name       string
	Schedule   string
	Urgency    string
	Recipients []string
	Subject    string
	Body       string
}

// Config controls the campaign service.
type Config struct {
	Enabled   bool
	Timezone  string // IANA TZ, e.g. "Asia/Jakarta"
	Campaigns []Definition
}

// Submitter is where fired campaigns go. Satisfied by *dispatch.Service.
type Submitter interface {
	Submit(ctx context.Context, req dispatch.Request) error
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	sub Submitter

	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, sub Submitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		sub: sub,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Validate checks every campaign definition without registering anything.
// Used at config load so a bad schedule is rejected before it replaces a
// working one.
func Validate(cfg Config) error {
	seen := map[string]bool{}
	for _, d := range cfg.Campaigns {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return errors.New("campaign: name required")
		}
		if seen[name] {
			return fmt.Errorf("campaign %q: duplicate name", name)
		}
		seen[name] = true
		if len(d.Recipients) == 0 {
			return fmt.Errorf("campaign %q: no recipients", name)
		}
		if strings.TrimSpace(d.Body) == "" {
			return fmt.Errorf("campaign %q: body required", name)
		}
		if _, err := ParseSchedule(d.Schedule); err != nil {
			return fmt.Errorf("campaign %q: %w", name, err)
		}
	}
	return nil
}

// Apply swaps in a new config. If the service has been started it restarts
// the cron runner so schedule, timezone, and enablement changes take effect.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	if cfg.Enabled && s.runCtx != nil {
		s.startLocked(s.runCtx)
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	if s.cfg.Enabled {
		s.startLocked(s.runCtx)
	}
}

// startLocked builds a fresh cron runner and registers every campaign.
// Call with s.mu held.
func (s *Service) startLocked(runCtx context.Context) {
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	registered := 0
	for _, d := range s.cfg.Campaigns {
		d := d
		ps, err := ParseSchedule(d.Schedule)
		if err != nil {
			s.log.Error("campaign has invalid schedule", logx.String("campaign", d.Name), logx.Err(err))
			continue
		}
		spec := ps.Cron
		if ps.Kind == SpecInterval {
			spec = fmt.Sprintf("@every %s", ps.Every.String())
		}
		if _, err := s.c.AddFunc(spec, func() { s.fire(runCtx, d) }); err != nil {
			s.log.Error("campaign register failed", logx.String("campaign", d.Name), logx.String("spec", spec), logx.Err(err))
			continue
		}
		registered++
		s.log.Debug("campaign registered", logx.String("campaign", d.Name), logx.String("spec", spec), logx.Int("recipients", len(d.Recipients)))
	}

	s.c.Start()
	s.log.Info("campaign service started", logx.String("tz", loc.String()), logx.Int("campaigns", registered))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("campaign service stopped")
}

// fire submits one campaign tick: one dispatch per recipient, all sharing a
// correlation id so the tick can be traced as a unit in the delivery log.
func (s *Service) fire(ctx context.Context, d Definition) {
	corr := fmt.Sprintf("cmp-%s-%x", d.Name, time.Now().UnixNano())
	urgency := dispatch.ParseUrgency(d.Urgency)

	submitted := 0
	for _, rid := range d.Recipients {
		req := dispatch.Request{
			RecipientID: rid,
			Message: dispatch.Message{
				Body:          d.Body,
				Subject:       d.Subject,
				CorrelationID: corr,
				Urgency:       urgency,
			},
		}
		if err := s.sub.Submit(ctx, req); err != nil {
			s.log.Warn("campaign submit failed", logx.String("campaign", d.Name), logx.String("recipient", rid), logx.Err(err))
			continue
		}
		submitted++
	}
	s.log.Info("campaign fired", logx.String("campaign", d.Name), logx.String("corr", corr), logx.Int("submitted", submitted), logx.Int("recipients", len(d.Recipients)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
