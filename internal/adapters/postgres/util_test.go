package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tachesure/escrow-service/internal/domain"
	"gorm.io/gorm"
)

func TestTranslateError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   error
		want error
	}{
		{name: "record not found", in: gorm.ErrRecordNotFound, want: domain.ErrNotFound},
		{name: "gorm duplicate", in: gorm.ErrDuplicatedKey, want: domain.ErrConflict},
		{name: "pg unique violation", in: &pgconn.PgError{Code: "23505"}, want: domain.ErrConflict},
		{name: "serialization failure", in: &pgconn.PgError{Code: "40001"}, want: domain.ErrStorageUnavailable},
		{name: "connection exception", in: &pgconn.PgError{Code: "08006"}, want: domain.ErrStorageUnavailable},
		{name: "deadline", in: fmt.Errorf("query: %w", context.DeadlineExceeded), want: domain.ErrStorageUnavailable},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := translateError(tc.in); !errors.Is(got, tc.want) {
				t.Fatalf("translateError(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
	if translateError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	check := &pgconn.PgError{Code: "23514"}
	if got := translateError(check); got != check {
		t.Fatalf("check violation should pass through, got %v", got)
	}
}

func TestRetryableStorageErrors(t *testing.T) {
	t.Parallel()
	if !domain.IsRetryable(translateError(&pgconn.PgError{Code: "40P01"})) {
		t.Fatalf("deadlock should be retryable")
	}
	if domain.IsRetryable(translateError(gorm.ErrRecordNotFound)) {
		t.Fatalf("not found must be final")
	}
}
