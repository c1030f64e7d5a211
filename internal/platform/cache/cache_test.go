package cache

import (
	"strings"
	"testing"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid-redis", "redis://localhost:6379", false},
		{"valid-with-db", "redis://localhost:6379/2", false},
		{"tls", "rediss://cache.internal:6380", false},
		{"wrong-scheme", "http://localhost:6379", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.name == "valid-with-db" && opts.DB != 2 {
				t.Errorf("DB = %d, want 2", opts.DB)
			}
			if tt.name == "tls" && opts.TLSConfig == nil {
				t.Error("rediss URL should enable TLS")
			}
		})
	}
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	ctx := t.Context()
	_, err := New(ctx, "redis://localhost:59999")
	if err == nil {
		t.Fatal("New() should return error for unreachable host")
	}
	if !strings.Contains(err.Error(), "pinging cache") {
		t.Errorf("error = %v, want a ping failure", err)
	}
}
