package postgres

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"sith/backend/internal/store"
)

func TestClassifyMapsLostRacesToConflict(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := classify(&pgconn.PgError{Code: code})
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("expected %s to map to conflict, got %v", code, err)
		}
		if !isSerializationFailure(err) {
			t.Fatalf("expected %s to stay recognisable as a serialization failure", code)
		}
	}
}

func TestClassifyKeepsOtherErrors(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&pgconn.PgError{Code: "23505"}, store.ErrConflict},
		{&pgconn.PgError{Code: "23503"}, store.ErrNotFound},
		{&pgconn.PgError{Code: "23514"}, store.ErrInvalidTransaction},
		{sql.ErrNoRows, store.ErrNotFound},
		{store.ErrInsufficientFunds, store.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		if got := classify(tc.err); !errors.Is(got, tc.want) {
			t.Fatalf("classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if isSerializationFailure(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("unique violation must not be retried")
	}
}
