package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	kit "courier/internal/transport"
	logx "courier/pkg/logx"
)

type Config struct {
	// URL is the gateway's send endpoint.
	URL        string
	APIKey     string
	Sender     string
	RatePerSec int
}

// Adapter delivers SMS through an HTTP gateway (form-encoded API, the common
// denominator across SMPP frontends).
type Adapter struct {
	cfg     Config
	log     logx.Logger
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("sms gateway url is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

func (a *Adapter) Name() string { return kit.ChannelSMS }

// rePhone accepts E.164-ish numbers. Stricter validation is the contact
// directory's problem; this only rejects values the gateway is guaranteed to
// bounce, so we can fail them as permanent without a network call.
var rePhone = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

type gatewayReply struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (a *Adapter) Send(ctx context.Context, address string, msg kit.Message) (kit.SendResult, error) {
	phone := strings.ReplaceAll(strings.TrimSpace(address), " ", "")
	if !rePhone.MatchString(phone) {
		return kit.SendResult{}, kit.Permanentf("sms: bad phone number %q", address)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return kit.SendResult{}, err
	}

	form := url.Values{}
	form.Set("to", phone)
	form.Set("text", msg.Body)
	if a.cfg.Sender != "" {
		form.Set("from", a.cfg.Sender)
	}
	if msg.CorrelationID != "" {
		form.Set("client_ref", msg.CorrelationID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return kit.SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if a.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", a.cfg.APIKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return kit.SendResult{}, err
	}
	defer resp.Body.Close()

	var out gatewayReply
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 {
		detail := out.Error
		if detail == "" {
			detail = "gateway error"
		}
		return kit.SendResult{}, kit.StatusError(resp.StatusCode, "sms: "+detail)
	}
	// Some gateways answer 200 with an in-band rejection.
	if out.Status != "" && !strings.EqualFold(out.Status, "accepted") && !strings.EqualFold(out.Status, "queued") {
		return kit.SendResult{}, kit.Permanentf("sms: gateway rejected: %s", out.Status)
	}

	return kit.SendResult{ProviderID: out.MessageID}, nil
}
