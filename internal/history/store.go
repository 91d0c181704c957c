// Package history keeps the bounded log of completed exchanges and mirrors
// it into durable key-value storage after every mutation.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"waverchat/internal/models"
	"waverchat/internal/storage"
)

// DefaultCapacity bounds the log; older exchanges are evicted first.
const DefaultCapacity = 50

var (
	ErrCorrupt            = errors.New("stored history is corrupt")
	ErrIncompleteExchange = errors.New("exchange needs both user message and bot response")
)

// Store is not safe for concurrent use; the session controller owns it.
type Store struct {
	kv       storage.KV
	key      string
	capacity int
	entries  []models.Exchange
	head     int // index of the oldest live entry
}

func NewStore(kv storage.KV, capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{kv: kv, key: storage.KeyHistory, capacity: capacity}
}

// Load replaces the in-memory log with the durable copy. A missing or
// unreadable record yields an empty log; the error is only logged.
func (s *Store) Load(ctx context.Context) {
	s.entries, s.head = nil, 0
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("history load failed: %v", err)
		}
		return
	}
	entries, err := Decode([]byte(raw))
	if err != nil {
		log.Printf("history load failed: %v", err)
		return
	}
	if len(entries) > s.capacity {
		entries = entries[len(entries)-s.capacity:]
	}
	s.entries = entries
}

// Append adds ex as the newest entry and persists the log.
func (s *Store) Append(ctx context.Context, ex models.Exchange) error {
	if ex.UserMessage == "" || ex.BotResponse == "" {
		return ErrIncompleteExchange
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now()
	}
	ex.Timestamp = ex.Timestamp.UTC().Round(0)
	if ex.Tokens != nil {
		t := *ex.Tokens
		estimated := t.Estimated
		t = t.Normalize()
		t.Estimated = estimated
		ex.Tokens = &t
	}
	s.entries = append(s.entries, ex)
	if s.Len() > s.capacity {
		s.head = len(s.entries) - s.capacity
	}
	s.compact()
	return s.persist(ctx)
}

// Clear empties the log and removes the durable record.
func (s *Store) Clear(ctx context.Context) error {
	s.entries, s.head = nil, 0
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

// Export serializes the log for download.
func (s *Store) Export() ([]byte, error) {
	return json.MarshalIndent(s.Entries(), "", "  ")
}

// Entries returns a copy of the live log, oldest first.
func (s *Store) Entries() []models.Exchange {
	live := s.entries[s.head:]
	out := make([]models.Exchange, len(live))
	copy(out, live)
	return out
}

func (s *Store) Len() int {
	return len(s.entries) - s.head
}

func (s *Store) Capacity() int {
	return s.capacity
}

// compact drops evicted entries once they outnumber the live ones, keeping
// append amortized O(1).
func (s *Store) compact() {
	if s.head == 0 || s.head < s.capacity {
		return
	}
	live := make([]models.Exchange, s.Len(), 2*s.capacity)
	copy(live, s.entries[s.head:])
	s.entries, s.head = live, 0
}

func (s *Store) persist(ctx context.Context) error {
	payload, err := json.Marshal(s.entries[s.head:])
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(payload)); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

// Decode parses a serialized log, rejecting records that are not complete
// exchanges.
func Decode(data []byte) ([]models.Exchange, error) {
	var entries []models.Exchange
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for i, ex := range entries {
		if ex.UserMessage == "" || ex.BotResponse == "" {
			return nil, fmt.Errorf("%w: entry %d incomplete", ErrCorrupt, i)
		}
		if ex.Tokens != nil {
			t := ex.Tokens
			if t.PromptTokens < 0 || t.CompletionTokens < 0 || t.TotalTokens != t.PromptTokens+t.CompletionTokens {
				return nil, fmt.Errorf("%w: entry %d token totals", ErrCorrupt, i)
			}
		}
	}
	return entries, nil
}
