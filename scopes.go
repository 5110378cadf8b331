package boxconn

import (
	"strings"
)

// Box OAuth2 scopes accepted by the authorize and token-exchange endpoints.
const (
	ScopeRootReadonly     = "root_readonly"
	ScopeRootReadWrite    = "root_readwrite"
	ScopeManageGroups     = "manage_groups"
	ScopeManageWebhook    = "manage_webhook"
	ScopeManageAppUsers   = "manage_app_users"
	ScopeManageEnterprise = "manage_enterprise_properties"

	// Downscoped token scopes
	ScopeItemPreview    = "item_preview"
	ScopeItemDownload   = "item_download"
	ScopeItemUpload     = "item_upload"
	ScopeItemRead       = "item_read"
	ScopeItemReadWrite  = "item_readwrite"
	ScopeItemShare      = "item_share"
	ScopeItemDelete     = "item_delete"
	ScopeItemRename     = "item_rename"
	ScopeBaseExplorer   = "base_explorer"
	ScopeBasePreview    = "base_preview"
	ScopeBasePicker     = "base_picker"
	ScopeBaseSidebar    = "base_sidebar"
	ScopeAnnotationEdit = "annotation_edit"
	ScopeAnnotationView = "annotation_view_all"
)

// ParseScopes parses a space-separated scope string into a slice
func ParseScopes(scopeString string) []string {
	if scopeString == "" {
		return nil
	}
	scopes := strings.Fields(scopeString)
	// Remove duplicates
	seen := make(map[string]bool)
	result := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

// JoinScopes joins a slice of scopes into a space-separated string,
// dropping blanks and duplicates while keeping the first occurrence order.
func JoinScopes(scopes []string) string {
	seen := make(map[string]bool, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return strings.Join(out, " ")
}

// ContainsScope checks if a scope is present in the list
func ContainsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
