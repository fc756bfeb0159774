package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// JournalEntry records the outcome of one applied call.
type JournalEntry struct {
	Height uint64 `json:"height"`
	CallID string `json:"call_id"`
	Type   string `json:"type"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Trades int    `json:"trades,omitempty"`
	Time   int64  `json:"time"`
}

// Journal is an append-only log of applied calls.
type Journal interface {
	Append(e JournalEntry) error
	Close() error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal                { return &NopJournal{} }
func (j *NopJournal) Append(_ JournalEntry) error { return nil }
func (j *NopJournal) Close() error                { return nil }

// FileJournal writes one JSON line per entry.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(e JournalEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = fmt.Fprintln(j.f, string(line))
	return err
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
