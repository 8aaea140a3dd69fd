package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/fakeyudi/wolf/internal/tracer"
)

// StoredResult is the last trace result accepted for display.
type StoredResult struct {
	SessionID  string         `msgpack:"session_id"`
	File       string         `msgpack:"file"`
	LineCount  int            `msgpack:"line_count"`
	CapturedAt time.Time      `msgpack:"captured_at"`
	Result     *tracer.Result `msgpack:"result"`
}

// ResultStore keeps the most recent StoredResult on disk.
type ResultStore struct {
	path string
}

// NewResultStore returns a store at $XDG_DATA_HOME/wolf/last-result.mp.
func NewResultStore() (*ResultStore, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &ResultStore{path: filepath.Join(dir, "last-result.mp")}, nil
}

// Put replaces the stored result.
func (r *ResultStore) Put(sr *StoredResult) error {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(sr); err != nil {
		return fmt.Errorf("encode trace result: %w", err)
	}
	if err := writeAtomic(r.path, "last-result-*.tmp", buf.Bytes()); err != nil {
		return fmt.Errorf("write trace result: %w", err)
	}
	return nil
}

// Get returns the stored result, or ErrNoResult when there is none.
func (r *ResultStore) Get() (*StoredResult, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoResult
		}
		return nil, err
	}
	defer f.Close()

	var sr StoredResult
	if err := msgpack.NewDecoder(f).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode trace result: %w", err)
	}
	return &sr, nil
}

// ErrNoResult is returned by Get before any trace has been stored.
var ErrNoResult = errors.New("no stored trace result")
