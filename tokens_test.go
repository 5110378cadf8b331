package boxconn

import (
	"testing"
	"time"
)

func TestTokenState_NeedsRefresh(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		state TokenState
		want  bool
	}{
		{"fresh", NewTokenState("a", "r", 3600, now.Add(-time.Minute)), false},
		{"one ms before expiry", TokenState{AccessToken: "a", LastRefresh: now.Add(-time.Hour + time.Millisecond), TTL: time.Hour}, false},
		{"exactly at expiry", TokenState{AccessToken: "a", LastRefresh: now.Add(-time.Hour), TTL: time.Hour}, true},
		{"expired", NewTokenState("a", "r", 60, now.Add(-time.Hour)), true},
		{"never refreshed", TokenState{AccessToken: "a", TTL: time.Hour}, true},
		{"zero ttl", TokenState{AccessToken: "a", LastRefresh: now}, true},
		{"no access token", TokenState{RefreshToken: "r", LastRefresh: now, TTL: time.Hour}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.NeedsRefresh(now); got != tt.want {
				t.Errorf("NeedsRefresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenState_ExpiresAt(t *testing.T) {
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st := NewTokenState("a", "r", 3600, issued)
	if got, want := st.ExpiresAt(), issued.Add(time.Hour); !got.Equal(want) {
		t.Errorf("ExpiresAt() = %v, want %v", got, want)
	}
	if got := (TokenState{TTL: time.Hour}).ExpiresAt(); !got.IsZero() {
		t.Errorf("ExpiresAt() = %v, want zero", got)
	}
}

func TestTokenState_Predicates(t *testing.T) {
	if !(TokenState{}).IsZero() {
		t.Error("IsZero() = false for empty state")
	}
	if (TokenState{AccessToken: "a"}).IsZero() {
		t.Error("IsZero() = true with an access token")
	}
	if (TokenState{AccessToken: "a"}).HasRefreshToken() {
		t.Error("HasRefreshToken() = true without a refresh token")
	}
	if !(TokenState{RefreshToken: "r"}).HasRefreshToken() {
		t.Error("HasRefreshToken() = false with a refresh token")
	}
}
