package util

import (
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"go duration", "1500ms", 1500 * time.Millisecond},
		{"bare seconds", "2", 2 * time.Second},
		{"garbage", "soon", 7 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FOLIO_TEST_DURATION", tt.value)
			if got := GetEnvDuration("FOLIO_TEST_DURATION", 7*time.Second); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("FOLIO_TEST_BOOL", "1")
	if !GetEnvBool("FOLIO_TEST_BOOL", false) {
		t.Fatal("expected true for 1")
	}
	t.Setenv("FOLIO_TEST_BOOL", "maybe")
	if GetEnvBool("FOLIO_TEST_BOOL", false) {
		t.Fatal("expected default for unparseable value")
	}
}
