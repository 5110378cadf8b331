package boxconn

import (
	"net/url"
	"strings"
)

// ResourceLinkType classifies a resource URL handed to the connection,
// e.g. when building a downscoped token restricted to one item.
type ResourceLinkType int

const (
	ResourceLinkUnknown ResourceLinkType = iota
	ResourceLinkAPIEndpoint
	ResourceLinkSharedLink
)

func (t ResourceLinkType) String() string {
	switch t {
	case ResourceLinkAPIEndpoint:
		return "api_endpoint"
	case ResourceLinkSharedLink:
		return "shared_link"
	}
	return "unknown"
}

// DetermineResourceLinkType returns ResourceLinkAPIEndpoint for Box API URLs
// (".../2.0/..."), ResourceLinkSharedLink for shared links ("/s/<id>" or a
// "s" query parameter) and ResourceLinkUnknown for anything else.
func DetermineResourceLinkType(resource string) ResourceLinkType {
	if resource == "" {
		return ResourceLinkUnknown
	}
	u, err := url.Parse(resource)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ResourceLinkUnknown
	}

	path := strings.ToLower(u.Path)
	if strings.HasPrefix(path, "/2.0/") || strings.Contains(path, "/api/2.0/") {
		return ResourceLinkAPIEndpoint
	}
	if strings.HasPrefix(path, "/s/") || u.Query().Get("s") != "" {
		return ResourceLinkSharedLink
	}
	return ResourceLinkUnknown
}
