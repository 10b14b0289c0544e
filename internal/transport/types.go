package transport

import "context"

// Channel names are stable identifiers used in strategy tables, contact
// directories, and delivery log records.
const (
	ChannelTelegram = "telegram"
	ChannelBot      = "bot"
	ChannelSMS      = "sms"
	ChannelEmail    = "email"
)

// Message is the wire-level payload handed to a channel adapter.
//
// The body is already rendered; adapters never touch templates. Subject is
// only meaningful for email-like channels and may be empty. CorrelationID
// ties provider calls back to delivery log records.
type Message struct {
	Body          string
	Subject       string
	CorrelationID string
}

// SendResult carries provider-assigned identifiers when available.
type SendResult struct {
	ProviderID string
}

// Adapter sends one message to one destination address on one channel.
//
// Contract:
//   - Exactly one bounded outbound provider call per Send. Retry and fallback
//     policy belongs to the dispatch orchestrator, not the adapter.
//   - Provider-specific failures are normalized at this boundary: wrap
//     permanent failures (invalid address, recipient blocked) in
//     PermanentError; everything else is treated as transient.
//   - Send must honor ctx cancellation/deadline.
type Adapter interface {
	Name() string
	Send(ctx context.Context, address string, msg Message) (SendResult, error)
}
