// Package spool implements the on-disk journal the trade buffer falls
// back to when the store's circuit is tripped: an append-only,
// line-delimited JSON file that a separate loop periodically drains.
package spool

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
)

// Spool is a single append-only journal file. Replay is guarded by an
// "is replaying" flag so overlapping replay ticks never interleave.
type Spool struct {
	path      string
	mu        sync.Mutex
	replaying bool
}

// New returns a Spool rooted at path, creating its parent directory if
// necessary.
func New(path string) *Spool {
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	return &Spool{path: path}
}

// Append writes each record as its own line to the journal.
func (s *Spool) Append(records [][]byte) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("spool: open for append: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range records {
		if _, err := w.Write(r); err != nil {
			return fmt.Errorf("spool: write: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("spool: write: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("spool: flush: %w", err)
	}

	log.Printf("📼 Spool appended %d record(s) to %s (%s on disk)", len(records), s.path, s.sizeHuman())
	return nil
}

// Attempt is called once per spooled record during Replay. It should
// return nil for success and for idempotent-duplicate outcomes --
// anything else leaves the record in the journal for the next pass.
type Attempt func(record []byte) error

// Replay reads the whole file, retries every line via attempt, and
// atomically rewrites the file with only the still-failing lines. If a
// replay is already in flight it is a no-op.
func (s *Spool) Replay(attempt Attempt) (succeeded, remaining int, err error) {
	s.mu.Lock()
	if s.replaying {
		s.mu.Unlock()
		return 0, 0, nil
	}
	s.replaying = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.replaying = false
		s.mu.Unlock()
	}()

	data, readErr := os.ReadFile(s.path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("spool: read: %w", readErr)
	}
	if len(data) == 0 {
		return 0, 0, nil
	}

	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	var stillFailing [][]byte

	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		if attempt(line) == nil {
			succeeded++
			continue
		}
		stillFailing = append(stillFailing, line)
	}

	if err := s.rewrite(stillFailing); err != nil {
		return succeeded, len(stillFailing), err
	}

	if succeeded > 0 || len(stillFailing) > 0 {
		log.Printf("📼 Spool replay: %d succeeded, %d remaining", succeeded, len(stillFailing))
	}
	return succeeded, len(stillFailing), nil
}

// rewrite atomically replaces the journal with only the given lines.
func (s *Spool) rewrite(lines [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("spool: create temp: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.Write(l); err != nil {
			f.Close()
			return fmt.Errorf("spool: write temp: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return fmt.Errorf("spool: write temp: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("spool: flush temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("spool: close temp: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("spool: rename: %w", err)
	}
	return nil
}

func (s *Spool) sizeHuman() string {
	info, err := os.Stat(s.path)
	if err != nil {
		return "0 B"
	}
	return humanize.Bytes(uint64(info.Size()))
}

// Backlog returns the number of pending lines currently on disk.
func (s *Spool) Backlog() int {
	data, err := os.ReadFile(s.path)
	if err != nil || len(data) == 0 {
		return 0
	}
	return bytes.Count(bytes.TrimRight(data, "\n"), []byte("\n")) + 1
}
