package cache

import "testing"

func TestNewRedisClientUnreachableReturnsNil(t *testing.T) {
	c := NewRedisClient("127.0.0.1", "1", "")
	if c != nil {
		t.Fatal("expected nil client when redis is unreachable, to let callers degrade gracefully")
	}
}

