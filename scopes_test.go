package boxconn

import (
	"reflect"
	"testing"
)

func TestParseScopes(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"item_preview", []string{"item_preview"}},
		{"item_preview  item_download item_preview", []string{"item_preview", "item_download"}},
	}

	for _, tt := range tests {
		if got := ParseScopes(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseScopes(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJoinScopes(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{" ", ""}, ""},
		{[]string{ScopeItemPreview, ScopeItemDownload}, "item_preview item_download"},
		{[]string{" item_preview ", "item_preview", "base_explorer"}, "item_preview base_explorer"},
	}

	for _, tt := range tests {
		if got := JoinScopes(tt.in); got != tt.want {
			t.Errorf("JoinScopes(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContainsScope(t *testing.T) {
	scopes := []string{ScopeRootReadonly, ScopeItemShare}
	if !ContainsScope(scopes, "item_share") {
		t.Error("ContainsScope() = false, want true")
	}
	if ContainsScope(scopes, "item_delete") {
		t.Error("ContainsScope() = true, want false")
	}
}
