package contacts

import (
	"fmt"
	"os"
	"strings"
	"sync"

	yaml "go.yaml.in/yaml/v3"

	logx "courier/pkg/logx"
)

// Resolver looks up per-channel addresses for a recipient.
//
// Resolve never blocks on network: implementations answer from a pre-loaded
// directory. A missing address is ordinary data, not an error; the dispatch
// orchestrator skips channels the recipient doesn't have.
type Resolver interface {
	Resolve(recipientID, channel string) (address string, ok bool)
	Addresses(recipientID string) map[string]string
}

// Directory is a file-backed Resolver.
//
// The file is YAML, keyed by recipient id, one address per channel:
//
//	recipients:
//	  emp-1042:
//	    telegram: "8841523"
//	    sms: "+15550123"
//	    email: "b.siregar@example.com"
//
// Contact data is owned by the external profile-management flows; this cache
// is refreshed via Reload (the app calls it on a periodic ticker).
type Directory struct {
	path string
	log  logx.Logger

	mu      sync.RWMutex
	entries map[string]map[string]string
}

type directoryFile struct {
	Recipients map[string]map[string]string `yaml:"recipients"`
}

func Load(path string, log logx.Logger) (*Directory, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Directory{path: path, log: log}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the directory file and swaps the cache atomically.
// On error the previous cache stays in effect.
func (d *Directory) Reload() error {
	b, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("contacts: %w", err)
	}

	var f directoryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("contacts: parse %s: %w", d.path, err)
	}

	entries := make(map[string]map[string]string, len(f.Recipients))
	for id, addrs := range f.Recipients {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		m := make(map[string]string, len(addrs))
		for ch, addr := range addrs {
			ch = strings.ToLower(strings.TrimSpace(ch))
			addr = strings.TrimSpace(addr)
			if ch == "" || addr == "" {
				continue
			}
			m[ch] = addr
		}
		if len(m) > 0 {
			entries[id] = m
		}
	}

	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()

	d.log.Debug("contact directory loaded", logx.String("path", d.path), logx.Int("recipients", len(entries)))
	return nil
}

func (d *Directory) Resolve(recipientID, channel string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addrs, ok := d.entries[recipientID]
	if !ok {
		return "", false
	}
	addr, ok := addrs[channel]
	return addr, ok
}

// Addresses returns a copy of the recipient's known addresses (nil if unknown).
func (d *Directory) Addresses(recipientID string) map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addrs, ok := d.entries[recipientID]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(addrs))
	for ch, a := range addrs {
		out[ch] = a
	}
	return out
}

// Len reports the number of known recipients.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
