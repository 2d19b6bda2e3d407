package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	codeClash := &pgconn.PgError{Code: "23505", ConstraintName: "rooms_code_key"}
	pkClash := &pgconn.PgError{Code: "23505", ConstraintName: "rooms_pkey"}

	if !isUniqueViolation(fmt.Errorf("wrapped: %w", codeClash), "rooms_code_key") {
		t.Fatalf("expected wrapped code clash to match")
	}
	if isUniqueViolation(pkClash, "rooms_code_key") {
		t.Fatalf("primary key clash must not read as a code clash")
	}
	if !isUniqueViolation(pkClash, "") {
		t.Fatalf("empty constraint should match any unique violation")
	}
	if isUniqueViolation(errors.New("boom"), "") {
		t.Fatalf("plain errors are not unique violations")
	}
	if isUniqueViolation(nil, "") {
		t.Fatalf("nil is not a unique violation")
	}
}
