package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"unique violation", &pq.Error{Code: "23505"}, ErrConflict},
		{"server error", &pq.Error{Code: "08006"}, ErrUnavailable},
		{"conn done", sql.ErrConnDone, ErrUnavailable},
		{"unknown", errors.New("boom"), ErrUnavailable},
		{"already not found", fmt.Errorf("%w: gone", ErrNotFound), ErrNotFound},
		{"already invariant", fmt.Errorf("%w: bad pair", ErrInvariantViolation), ErrInvariantViolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("expected nil got %v", got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, got)
			}
		})
	}
}

func TestErrorKind(t *testing.T) {
	if kind := ErrorKind(nil); kind != "none" {
		t.Fatalf("unexpected kind %s", kind)
	}
	if kind := ErrorKind(fmt.Errorf("%w: x", ErrConflict)); kind != "conflict" {
		t.Fatalf("unexpected kind %s", kind)
	}
	if kind := ErrorKind(fmt.Errorf("%w: x", ErrInvariantViolation)); kind != "invariant_violation" {
		t.Fatalf("unexpected kind %s", kind)
	}
	if kind := ErrorKind(errors.New("boom")); kind != "unavailable" {
		t.Fatalf("unexpected kind %s", kind)
	}
}
