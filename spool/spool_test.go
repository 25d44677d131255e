package spool

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndReplayAllSucceed(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "trades.jsonl"))

	if err := s.Append([][]byte{[]byte(`{"id":"1"}`), []byte(`{"id":"2"}`)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := s.Backlog(); got != 2 {
		t.Fatalf("Backlog = %d, want 2", got)
	}

	succeeded, remaining, err := s.Replay(func(record []byte) error { return nil })
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if succeeded != 2 || remaining != 0 {
		t.Fatalf("succeeded=%d remaining=%d, want 2,0", succeeded, remaining)
	}
	if got := s.Backlog(); got != 0 {
		t.Fatalf("Backlog after full replay = %d, want 0", got)
	}
}

func TestReplayKeepsFailingRecords(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "trades.jsonl"))
	_ = s.Append([][]byte{[]byte(`{"id":"1"}`), []byte(`{"id":"2"}`)})

	succeeded, remaining, err := s.Replay(func(record []byte) error {
		if string(record) == `{"id":"1"}` {
			return nil
		}
		return errors.New("store unavailable")
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if succeeded != 1 || remaining != 1 {
		t.Fatalf("succeeded=%d remaining=%d, want 1,1", succeeded, remaining)
	}
	if got := s.Backlog(); got != 1 {
		t.Fatalf("Backlog = %d, want 1", got)
	}
}

func TestReplayOnMissingFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "missing.jsonl"))
	succeeded, remaining, err := s.Replay(func([]byte) error { return nil })
	if err != nil || succeeded != 0 || remaining != 0 {
		t.Fatalf("got %d,%d,%v want 0,0,nil", succeeded, remaining, err)
	}
}

func TestConcurrentReplayIsNoop(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "trades.jsonl"))
	_ = s.Append([][]byte{[]byte(`{"id":"1"}`)})

	s.mu.Lock()
	s.replaying = true
	s.mu.Unlock()

	succeeded, remaining, err := s.Replay(func([]byte) error { return nil })
	if err != nil || succeeded != 0 || remaining != 0 {
		t.Fatalf("expected no-op during concurrent replay, got %d,%d,%v", succeeded, remaining, err)
	}

	s.mu.Lock()
	s.replaying = false
	s.mu.Unlock()
	_ = os.Remove(filepath.Join(dir, "trades.jsonl.tmp"))
}
