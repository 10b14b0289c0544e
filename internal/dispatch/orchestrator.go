package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"courier/internal/contacts"
	"courier/internal/deliverylog"
	kit "courier/internal/transport"
	logx "courier/pkg/logx"
)

// Orchestrator walks one dispatch through its strategy's channel ladder.
//
// The lifecycle per dispatch is PENDING -> RESOLVING -> SENDING and back to
// RESOLVING for the next channel, terminating in SUCCEEDED or EXHAUSTED.
// Within one dispatch the walk is strictly sequential: the next channel is
// only attempted after the previous one failed and the fallback delay
// elapsed, so a CRITICAL alert doesn't duplicate to SMS and email before the
// chat app had a chance to succeed.
//
// The orchestrator itself is stateless and safe for concurrent use; the only
// shared mutable resource it touches is the append-only delivery log.
type Orchestrator struct {
	registry *kit.Registry
	contacts contacts.Resolver
	table    Table
	store    deliverylog.Store // may be nil (sink disabled)
	stats    *deliverylog.Stats
	log      logx.Logger

	corrSeq atomic.Uint64
}

func NewOrchestrator(registry *kit.Registry, resolver contacts.Resolver, table Table, store deliverylog.Store, stats *deliverylog.Stats, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		registry: registry,
		contacts: resolver,
		table:    table,
		store:    store,
		stats:    stats,
		log:      log,
	}
}

// Dispatch delivers req.Message to req.RecipientID across the channels
// selected by the message's urgency.
//
// Ordinary delivery failure is not an error: the caller always gets a
// Result, with Success=false after exhaustion. The error return is reserved
// for ErrNoAddress, cancellation, and malformed requests.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	if strings.TrimSpace(req.RecipientID) == "" {
		return Result{}, errors.New("dispatch: recipient id is required")
	}
	if strings.TrimSpace(req.Message.Body) == "" {
		return Result{}, errors.New("dispatch: message body is empty")
	}
	msg := req.Message
	if msg.CorrelationID == "" {
		msg.CorrelationID = o.newCorrelationID()
	}

	strat := o.table.Select(msg.Urgency)
	log := o.log.With(
		logx.String("corr", msg.CorrelationID),
		logx.String("recipient", req.RecipientID),
		logx.String("urgency", string(ParseUrgency(string(msg.Urgency)))),
	)

	// Fail fast when the recipient is unreachable on every strategy channel:
	// no attempts made, nothing logged beyond this terminal notice.
	if !anyResolvable(o.contacts, req.RecipientID, strat.Channels) {
		log.Warn("dispatch has no resolvable address", logx.Any("channels", strat.Channels))
		return Result{Elapsed: time.Since(start)}, ErrNoAddress
	}

	wire := kit.Message{Body: msg.Body, Subject: msg.Subject, CorrelationID: msg.CorrelationID}
	var res Result

	for i, ch := range strat.Channels {
		if err := ctx.Err(); err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}
		if res.Attempts >= strat.MaxAttempts {
			break
		}

		addr, ok := o.contacts.Resolve(req.RecipientID, ch)
		if !ok {
			// Skipped channel: recorded for the audit trail, costs no attempt
			// and no delay.
			o.record(deliverylog.AttemptEntry{
				CorrelationID: msg.CorrelationID,
				Channel:       ch,
				Outcome:       string(kit.OutcomeNoAddress),
			}, log)
			continue
		}

		adapter, ok := o.registry.Get(ch)
		if !ok {
			// Startup validation keeps strategies and adapters aligned, so
			// this is a config drift signal, not a recipient problem.
			o.record(deliverylog.AttemptEntry{
				CorrelationID: msg.CorrelationID,
				Channel:       ch,
				Outcome:       string(kit.OutcomeNoAddress),
				Error:         "no adapter configured",
			}, log)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, strat.AttemptTimeout)
		began := time.Now()
		_, err := adapter.Send(sendCtx, addr, wire)
		cancel()

		res.Attempts++
		outcome := kit.Classify(err)
		entry := deliverylog.AttemptEntry{
			At:            began,
			CorrelationID: msg.CorrelationID,
			Channel:       ch,
			AddressHash:   deliverylog.HashAddress(addr),
			Outcome:       string(outcome),
			ElapsedMS:     time.Since(began).Milliseconds(),
		}
		if err != nil {
			entry.Error = err.Error()
		}
		o.record(entry, log)

		if outcome == kit.OutcomeSent {
			res.Success = true
			res.Channel = ch
			res.Elapsed = time.Since(start)
			log.Info("dispatch succeeded", logx.String("channel", ch), logx.Int("attempts", res.Attempts), logx.Duration("elapsed", res.Elapsed))
			return res, nil
		}

		// A cancelled parent context surfaces as a transient attempt; stop
		// here instead of sleeping into more work nobody wants.
		if ctx.Err() != nil {
			res.Elapsed = time.Since(start)
			return res, ctx.Err()
		}

		// Fallback suspension: only when budget and a reachable channel
		// remain. Skipped channels never pay the delay.
		if res.Attempts >= strat.MaxAttempts {
			break
		}
		if !anyResolvable(o.contacts, req.RecipientID, strat.Channels[i+1:]) {
			break
		}
		if strat.FallbackDelay > 0 {
			log.Debug("dispatch falling back", logx.String("failed_channel", ch), logx.Duration("delay", strat.FallbackDelay))
			t := time.NewTimer(strat.FallbackDelay)
			select {
			case <-ctx.Done():
				if !t.Stop() {
					<-t.C
				}
				res.Elapsed = time.Since(start)
				return res, ctx.Err()
			case <-t.C:
			}
		}
	}

	res.Elapsed = time.Since(start)
	log.Warn("dispatch exhausted", logx.Int("attempts", res.Attempts), logx.Duration("elapsed", res.Elapsed))
	return res, nil
}

func anyResolvable(r contacts.Resolver, recipientID string, channels []string) bool {
	for _, ch := range channels {
		if _, ok := r.Resolve(recipientID, ch); ok {
			return true
		}
	}
	return false
}

// record appends one attempt to the delivery log, stats, and the app log.
// The sink write is bounded and detached from the dispatch ctx so a
// cancelled dispatch still gets its final attempt on the audit trail.
func (o *Orchestrator) record(e deliverylog.AttemptEntry, log logx.Logger) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	if o.stats != nil {
		o.stats.Record(e.Channel, kit.Outcome(e.Outcome))
	}

	switch kit.Outcome(e.Outcome) {
	case kit.OutcomeSent:
		log.Debug("attempt sent", logx.String("channel", e.Channel), logx.Int64("elapsed_ms", e.ElapsedMS))
	case kit.OutcomeNoAddress:
		log.Debug("channel skipped", logx.String("channel", e.Channel), logx.String("detail", e.Error))
	default:
		log.Warn("attempt failed", logx.String("channel", e.Channel), logx.String("outcome", e.Outcome), logx.String("err", e.Error))
	}

	if o.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.store.AppendAttempt(wctx, e); err != nil {
		log.Warn("delivery log append failed", logx.Err(err))
	}
}

// newCorrelationID backfills a correlation id for callers that didn't supply
// one; it only needs to be unique enough to line up log records.
func (o *Orchestrator) newCorrelationID() string {
	return fmt.Sprintf("disp-%x-%x", time.Now().UnixNano(), o.corrSeq.Add(1))
}
