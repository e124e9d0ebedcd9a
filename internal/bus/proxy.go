package bus

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// ProxyMode selects how the router answers bus requests, per spec
// §6 "Host-capability config": direct, record, or replay.
type ProxyMode int

const (
	// ModeDirect forwards every request straight to the real capability.
	ModeDirect ProxyMode = iota
	// ModeRecord wraps Direct: it forwards, then persists {request, response}
	// pairs to a journal file keyed by a canonical hash of the request.
	ModeRecord
	// ModeReplay answers purely from a previously recorded journal; a
	// cache miss is a deterministic error.
	ModeReplay
)

// journalEntry is one canonically-serialisable {request, response} pair.
type journalEntry struct {
	Verb    Verb            `json:"verb"`
	Payload json.RawMessage `json:"payload"`
	Reply   json.RawMessage `json:"reply"`
	Err     string          `json:"err,omitempty"`
}

// Journal is an in-memory, canonically-keyed map of recorded host-call
// exchanges, loadable from and savable to a JSON file. This is what makes
// offline, reproducible evaluation possible (spec §4.1, testable property 4).
type Journal struct {
	mu      sync.Mutex
	entries map[string]journalEntry
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{entries: make(map[string]journalEntry)}
}

// LoadJournal reads a previously recorded journal from disk.
func LoadJournal(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", path, err)
	}
	var entries []journalEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse journal %s: %w", path, err)
	}
	j := NewJournal()
	for _, e := range entries {
		// Save indents nested payloads; Record and Lookup key on compact JSON.
		var compact bytes.Buffer
		if err := json.Compact(&compact, e.Payload); err != nil {
			return nil, fmt.Errorf("parse journal %s: %w", path, err)
		}
		e.Payload = compact.Bytes()
		j.entries[canonicalKey(e.Verb, e.Payload)] = e
	}
	return j, nil
}

// Save writes the journal to path as an indented JSON array with entries
// emitted in a deterministic key order. The file carries no format version.
func (j *Journal) Save(path string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	keys := make([]string, 0, len(j.entries))
	for k := range j.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]journalEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, j.entries[k])
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write journal %s: %w", path, err)
	}
	return nil
}

// Record stores a {request, response} pair keyed by the canonical hash of
// the request.
func (j *Journal) Record(verb Verb, payload any, reply any, callErr error) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("canonicalize request payload: %w", err)
	}
	entry := journalEntry{Verb: verb, Payload: payloadJSON}
	if callErr != nil {
		entry.Err = callErr.Error()
	} else {
		replyJSON, err := json.Marshal(reply)
		if err != nil {
			return fmt.Errorf("canonicalize response payload: %w", err)
		}
		entry.Reply = replyJSON
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[canonicalKey(verb, payloadJSON)] = entry
	return nil
}

// Lookup answers a request purely from the journal, returning the raw reply
// JSON bytes (the caller decodes it into the verb-specific response type).
// The third return reports whether the key was found.
func (j *Journal) Lookup(verb Verb, payload any) (replyJSON json.RawMessage, callErr error, found bool) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, false
	}

	j.mu.Lock()
	entry, ok := j.entries[canonicalKey(verb, payloadJSON)]
	j.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	if entry.Err != "" {
		return nil, fmt.Errorf("replayed capability error: %s", entry.Err), true
	}
	return entry.Reply, nil, true
}

func canonicalKey(verb Verb, payloadJSON []byte) string {
	h := sha256.New()
	h.Write([]byte(verb))
	h.Write([]byte{0})
	h.Write(payloadJSON)
	return hex.EncodeToString(h.Sum(nil))
}
