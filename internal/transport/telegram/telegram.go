package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	kit "courier/internal/transport"
	logx "courier/pkg/logx"
)

type Config struct {
	Token      string
	ParseMode  string
	RatePerSec int
}

// Adapter delivers chat-app messages through the Telegram Bot API.
//
// Send-only: the engine never consumes updates, so the bot is constructed
// offline (no getMe round-trip, no poller) and startup does not depend on
// Telegram reachability.
type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

func (a *Adapter) Name() string { return kit.ChannelTelegram }

func (a *Adapter) Send(ctx context.Context, address string, msg kit.Message) (kit.SendResult, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return kit.SendResult{}, kit.Permanentf("telegram: bad chat id %q", address)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return kit.SendResult{}, err
	}
	// telebot calls don't take a context; re-check after the limiter wait so a
	// cancelled dispatch doesn't commit one more provider call.
	select {
	case <-ctx.Done():
		return kit.SendResult{}, ctx.Err()
	default:
	}

	opt := &tele.SendOptions{
		ParseMode:             a.cfg.ParseMode,
		DisableWebPagePreview: true,
	}
	sent, err := a.bot.Send(&tele.Chat{ID: chatID}, clampText(msg.Body), opt)
	if err != nil {
		return kit.SendResult{}, classify(err)
	}
	return kit.SendResult{ProviderID: strconv.Itoa(sent.ID)}, nil
}

// telegramTextLimit is below Telegram's 4096 hard cap to leave headroom for
// entity expansion.
const telegramTextLimit = 4000

// clampText truncates over-long bodies at a newline boundary when one is
// close enough. The engine delivers pre-rendered bodies, so anything past the
// provider limit is a composition bug upstream; truncating beats rejecting.
func clampText(s string) string {
	rs := []rune(s)
	if len(rs) <= telegramTextLimit {
		return s
	}
	cut := telegramTextLimit
	for i := cut - 1; i > cut-cut/3; i-- {
		if rs[i] == '\n' {
			cut = i
			break
		}
	}
	return strings.TrimRight(string(rs[:cut]), "\n")
}

// classify normalizes telebot errors at the adapter boundary.
//
// Flood control (429) is transient: the orchestrator may fall back to another
// channel. API errors in the 4xx family mean the chat id is unusable for this
// dispatch (blocked, deactivated, unknown chat) and must not be retried.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return err
	}
	var api *tele.Error
	if errors.As(err, &api) {
		if api.Code >= 400 && api.Code < 500 && api.Code != 429 {
			return kit.Permanent(err)
		}
	}
	return err
}
