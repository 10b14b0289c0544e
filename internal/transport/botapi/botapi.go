package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	kit "courier/internal/transport"
	logx "courier/pkg/logx"
)

type Config struct {
	// URL is the platform's message endpoint, e.g. "https://bots.example.com/v1/messages".
	URL        string
	Token      string
	RatePerSec int
}

// Adapter delivers messages through a generic bot-platform HTTP API.
//
// The platform accepts a JSON payload and answers with {"ok": ..., "id": ...}.
// Authentication is a bearer token loaded at process start.
type Adapter struct {
	cfg     Config
	log     logx.Logger
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("botapi url is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	return &Adapter{
		cfg: cfg,
		log: log,
		// Per-attempt deadlines come from the dispatch ctx; the client timeout
		// is only a hard upper bound against misconfigured strategies.
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

func (a *Adapter) Name() string { return kit.ChannelBot }

type sendPayload struct {
	To            string `json:"to"`
	Body          string `json:"body"`
	Subject       string `json:"subject,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type sendReply struct {
	OK          bool   `json:"ok"`
	ID          string `json:"id,omitempty"`
	Description string `json:"description,omitempty"`
}

func (a *Adapter) Send(ctx context.Context, address string, msg kit.Message) (kit.SendResult, error) {
	if strings.TrimSpace(address) == "" {
		return kit.SendResult{}, kit.Permanentf("botapi: empty handle")
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return kit.SendResult{}, err
	}

	b, err := json.Marshal(sendPayload{
		To:            address,
		Body:          msg.Body,
		Subject:       msg.Subject,
		CorrelationID: msg.CorrelationID,
	})
	if err != nil {
		return kit.SendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(b))
	if err != nil {
		return kit.SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		// Network errors (and ctx deadline, which the client wraps) are
		// transient by default; Classify unwraps the deadline case.
		return kit.SendResult{}, err
	}
	defer resp.Body.Close()

	var out sendReply
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		detail := out.Description
		if detail == "" {
			detail = "request failed"
		}
		return kit.SendResult{}, kit.StatusError(resp.StatusCode, "botapi: "+detail)
	}

	return kit.SendResult{ProviderID: out.ID}, nil
}
