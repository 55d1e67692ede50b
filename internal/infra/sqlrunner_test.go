package infra

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestExtractMarker(t *testing.T) {
	query := "--sql 0b6f2c1e-51d4-4a57-9d1c-8f3e2a7b9c10\nSELECT 1\nFROM dual\n"
	marker, body, err := ExtractMarker(query)
	if err != nil {
		t.Fatalf("ExtractMarker returned error: %v", err)
	}
	if marker != "0b6f2c1e-51d4-4a57-9d1c-8f3e2a7b9c10" {
		t.Fatalf("marker = %q", marker)
	}
	if body != "SELECT 1\nFROM dual" {
		t.Fatalf("body = %q", body)
	}
}

func TestExtractMarkerRejectsUnmarkedQuery(t *testing.T) {
	for _, query := range []string{"", "SELECT 1", "--sql not-a-uuid\nSELECT 1"} {
		if _, _, err := ExtractMarker(query); err == nil {
			t.Fatalf("ExtractMarker(%q) expected error", query)
		}
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("lookup: %w", pgx.ErrNoRows)) {
		t.Fatalf("IsNoRows should match wrapped pgx.ErrNoRows")
	}
	if IsNoRows(errors.New("boom")) {
		t.Fatalf("IsNoRows should not match unrelated errors")
	}
}
