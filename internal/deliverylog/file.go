package deliverylog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "courier/pkg/logx"
)

// fileStore is a dependency-free delivery log backend: one JSON object per
// attempt, appended to <prefix>.attempts.jsonl. Appends hold a mutex so
// concurrent dispatch workers never interleave partial lines.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	file *os.File
}

type attemptRecord struct {
	At            time.Time `json:"at"`
	CorrelationID string    `json:"correlation_id"`
	Channel       string    `json:"channel"`
	AddressHash   string    `json:"address_hash,omitempty"`
	Outcome       string    `json:"outcome"`
	Error         string    `json:"error,omitempty"`
	ElapsedMS     int64     `json:"elapsed_ms"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("delivery_log.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, base+".attempts.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, file: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) AppendAttempt(ctx context.Context, e AttemptEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrDisabled
	}
	return json.NewEncoder(s.file).Encode(attemptRecord{
		At:            e.At,
		CorrelationID: e.CorrelationID,
		Channel:       e.Channel,
		AddressHash:   e.AddressHash,
		Outcome:       e.Outcome,
		Error:         e.Error,
		ElapsedMS:     e.ElapsedMS,
	})
}
