package storegateway

import (
	"errors"
	"testing"
)

func TestIsDuplicateKey(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"duplicate constraint", errors.New(`pq: duplicate key value violates unique constraint "trades_pkey"`), true},
		{"sqlstate", errors.New("ERROR: SQLSTATE 23505"), true},
		{"unrelated", errors.New("connection refused"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsDuplicateKey(c.err); got != c.want {
				t.Errorf("IsDuplicateKey(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"duplicate", errors.New("duplicate key value violates unique constraint"), KindIdempotentDuplicate},
		{"timeout", errors.New("context deadline exceeded"), KindTimeout},
		{"conn lost", errors.New("dial tcp: connection refused"), KindConnectionLost},
		{"malformed", errors.New("invalid input syntax for type numeric"), KindMalformedInput},
		{"unknown defaults transient", errors.New("server misbehaving"), KindTransientNetwork},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.err); got != c.want {
				t.Errorf("Classify(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestWrapDBError(t *testing.T) {
	if WrapDBError("op", nil) != nil {
		t.Fatal("expected nil passthrough")
	}
	err := WrapDBError("insert", errors.New("boom"))
	var dbErr *DBError
	if !errors.As(err, &dbErr) {
		t.Fatalf("expected *DBError, got %T", err)
	}
	if dbErr.Operation != "insert" {
		t.Errorf("Operation = %q, want insert", dbErr.Operation)
	}
}
