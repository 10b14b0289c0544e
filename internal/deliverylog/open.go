package deliverylog

import (
	"context"
	"errors"
	"strings"

	logx "courier/pkg/logx"
)

// Store is the append-only sink for delivery attempts.
type Store interface {
	AppendAttempt(ctx context.Context, e AttemptEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the delivery log is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown delivery log driver: " + driver)
	}
}
