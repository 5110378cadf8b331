// Package boxtest runs an in-process fake of the Box token, revoke and
// collection endpoints for tests.
package boxtest

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	bc "github.com/panyam/boxconn"
)

// Item is a collection entry served by the fake.
type Item struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Fault makes the next matching request fail with Status.
type Fault struct {
	Status     int
	RetryAfter string
	Body       string
}

// Server is a fake Box API. Its zero-config defaults issue one-hour tokens to
// the credentials returned by Credentials.
type Server struct {
	*httptest.Server

	ClientID     string
	ClientSecret string
	ExpiresIn    int64

	// PublicKey verifies JWT assertions when set.
	PublicKey *rsa.PublicKey

	// RejectExpOnce makes the next JWT grant fail with an exp-claim error
	// and a Date header of ServerTime.
	RejectExpOnce bool
	ServerTime    time.Time

	// Items backs every folder collection.
	Items []Item

	mu          sync.Mutex
	seq         int
	access      map[string]bool
	refresh     map[string]bool
	codes       map[string]bool
	revoked     []string
	revokeForms []map[string]string
	grants      map[string]int
	hits        map[string]int
	lastHeaders http.Header
	lastForm    map[string]string
	faults      map[string][]Fault
}

// New starts a fake server and closes it when t finishes.
func New(t testing.TB) *Server {
	s := &Server{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		ExpiresIn:    3600,
		access:       make(map[string]bool),
		refresh:      make(map[string]bool),
		codes:        make(map[string]bool),
		grants:       make(map[string]int),
		hits:         make(map[string]int),
		faults:       make(map[string][]Fault),
	}

	r := mux.NewRouter()
	r.Use(s.record, s.injectFaults)
	r.HandleFunc("/oauth2/token", s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/oauth2/revoke", s.handleRevoke).Methods(http.MethodPost)

	api := r.PathPrefix("/2.0").Subrouter()
	api.Use(s.requireToken)
	api.HandleFunc("/users/me", s.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/folders/{id}/items", s.handleItems).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Config returns a Config pointing every endpoint at the fake.
func (s *Server) Config() bc.Config {
	cfg := bc.DefaultConfig()
	cfg.BaseURL = s.URL + "/2.0/"
	cfg.BaseUploadURL = s.URL + "/2.0/"
	cfg.TokenURL = s.URL + "/oauth2/token"
	cfg.RevokeURL = s.URL + "/oauth2/revoke"
	cfg.AuthorizationURL = s.URL + "/authorize"
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	return cfg
}

// Credentials returns the client credentials the fake accepts.
func (s *Server) Credentials() bc.ClientCredentials {
	return bc.ClientCredentials{ClientID: s.ClientID, ClientSecret: s.ClientSecret}
}

// IssueTokens mints a token pair as if a user had authorized the app.
func (s *Server) IssueTokens() (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(true)
}

// AddAuthCode registers an authorization code for the authorization_code grant.
func (s *Server) AddAuthCode(code string) {
	s.mu.Lock()
	s.codes[code] = true
	s.mu.Unlock()
}

// Expire invalidates an access token server-side so the next use gets a 401.
func (s *Server) Expire(access string) {
	s.mu.Lock()
	delete(s.access, access)
	s.mu.Unlock()
}

// Fail queues faults for requests to path, served in order before normal handling.
func (s *Server) Fail(path string, faults ...Fault) {
	s.mu.Lock()
	s.faults[path] = append(s.faults[path], faults...)
	s.mu.Unlock()
}

// GrantCount returns how many successful exchanges of grant were served.
func (s *Server) GrantCount(grant string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants[grant]
}

// Hits returns how many requests reached path, faults included.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Revoked returns the tokens revoked so far.
func (s *Server) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

// LastRevokeForm returns the form of the most recent revoke request.
func (s *Server) LastRevokeForm() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.revokeForms) == 0 {
		return nil
	}
	return s.revokeForms[len(s.revokeForms)-1]
}

// LastForm returns the form of the most recent token request.
func (s *Server) LastForm() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastForm
}

// LastHeaders returns the headers of the most recent API request.
func (s *Server) LastHeaders() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeaders.Clone()
}

func (s *Server) issueLocked(withRefresh bool) (string, string) {
	s.seq++
	access := fmt.Sprintf("access-%d", s.seq)
	s.access[access] = true
	refresh := ""
	if withRefresh {
		refresh = fmt.Sprintf("refresh-%d", s.seq)
		s.refresh[refresh] = true
	}
	return access, refresh
}

// record counts hits and keeps headers of API calls
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		if strings.HasPrefix(r.URL.Path, "/2.0/") {
			s.lastHeaders = r.Header.Clone()
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		queue := s.faults[r.URL.Path]
		var f *Fault
		if len(queue) > 0 {
			f = &queue[0]
			s.faults[r.URL.Path] = queue[1:]
		}
		s.mu.Unlock()

		if f == nil {
			next.ServeHTTP(w, r)
			return
		}
		if f.RetryAfter != "" {
			w.Header().Set("Retry-After", f.RetryAfter)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.Status)
		body := f.Body
		if body == "" {
			body = fmt.Sprintf(`{"type":"error","status":%d,"code":"injected_fault"}`, f.Status)
		}
		w.Write([]byte(body))
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		ok := s.access[token]
		s.mu.Unlock()
		if !ok {
			apiError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	form := flatten(r.PostForm)
	s.mu.Lock()
	s.lastForm = form
	s.mu.Unlock()

	grant := form["grant_type"]
	switch grant {
	case "refresh_token":
		s.handleRefreshGrant(w, form)
	case "authorization_code":
		s.handleCodeGrant(w, form)
	case "client_credentials":
		s.handleClientCredentialsGrant(w, form)
	case "urn:ietf:params:oauth:grant-type:jwt-bearer":
		s.handleJWTGrant(w, form)
	case "urn:ietf:params:oauth:grant-type:token-exchange":
		s.handleTokenExchange(w, form)
	default:
		tokenError(w, "unsupported_grant_type", "Grant type not supported", http.StatusBadRequest)
	}
}

func (s *Server) checkClient(w http.ResponseWriter, form map[string]string) bool {
	if form["client_id"] != s.ClientID || form["client_secret"] != s.ClientSecret {
		tokenError(w, "invalid_client", "The client credentials are invalid", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleRefreshGrant(w http.ResponseWriter, form map[string]string) {
	if !s.checkClient(w, form) {
		return
	}
	s.mu.Lock()
	if !s.refresh[form["refresh_token"]] {
		s.mu.Unlock()
		tokenError(w, "invalid_grant", "Invalid refresh token", http.StatusBadRequest)
		return
	}
	// refresh tokens are single use
	delete(s.refresh, form["refresh_token"])
	access, refresh := s.issueLocked(true)
	s.grants["refresh_token"]++
	s.mu.Unlock()
	s.tokenResponse(w, access, refresh, nil)
}

func (s *Server) handleCodeGrant(w http.ResponseWriter, form map[string]string) {
	if !s.checkClient(w, form) {
		return
	}
	s.mu.Lock()
	if !s.codes[form["code"]] {
		s.mu.Unlock()
		tokenError(w, "invalid_grant", "Auth code doesn't exist or is invalid for the client", http.StatusBadRequest)
		return
	}
	delete(s.codes, form["code"])
	access, refresh := s.issueLocked(true)
	s.grants["authorization_code"]++
	s.mu.Unlock()
	s.tokenResponse(w, access, refresh, nil)
}

func (s *Server) handleClientCredentialsGrant(w http.ResponseWriter, form map[string]string) {
	if !s.checkClient(w, form) {
		return
	}
	switch form["box_subject_type"] {
	case "enterprise", "user":
	default:
		tokenError(w, "invalid_request", "Invalid box_subject_type", http.StatusBadRequest)
		return
	}
	if form["box_subject_id"] == "" {
		tokenError(w, "invalid_request", "Missing box_subject_id", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	access, _ := s.issueLocked(false)
	s.grants["client_credentials"]++
	s.mu.Unlock()
	s.tokenResponse(w, access, "", nil)
}

func (s *Server) handleJWTGrant(w http.ResponseWriter, form map[string]string) {
	if !s.checkClient(w, form) {
		return
	}

	s.mu.Lock()
	rejectExp := s.RejectExpOnce
	s.RejectExpOnce = false
	serverTime := s.ServerTime
	s.mu.Unlock()
	if rejectExp {
		w.Header().Set("Date", serverTime.UTC().Format(http.TimeFormat))
		tokenError(w, "invalid_grant", "Please check the 'exp' claim.", http.StatusBadRequest)
		return
	}

	claims := jwt.MapClaims{}
	var err error
	if s.PublicKey != nil {
		_, err = jwt.ParseWithClaims(form["assertion"], claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.PublicKey, nil
		}, jwt.WithAudience(s.URL+"/oauth2/token"), jwt.WithIssuer(s.ClientID))
	} else {
		_, _, err = jwt.NewParser().ParseUnverified(form["assertion"], claims)
	}
	if err != nil {
		tokenError(w, "invalid_grant", "Invalid assertion: "+err.Error(), http.StatusBadRequest)
		return
	}
	switch claims["box_sub_type"] {
	case "enterprise", "user":
	default:
		tokenError(w, "invalid_grant", "Invalid box_sub_type claim", http.StatusBadRequest)
		return
	}
	if _, ok := claims["jti"].(string); !ok {
		tokenError(w, "invalid_grant", "Missing jti claim", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	access, _ := s.issueLocked(false)
	s.grants["jwt"]++
	s.mu.Unlock()
	s.tokenResponse(w, access, "", nil)
}

func (s *Server) handleTokenExchange(w http.ResponseWriter, form map[string]string) {
	s.mu.Lock()
	valid := s.access[form["subject_token"]]
	s.mu.Unlock()
	if !valid || form["subject_token_type"] != "urn:ietf:params:oauth:token-type:access_token" {
		tokenError(w, "invalid_grant", "Invalid subject token", http.StatusBadRequest)
		return
	}
	if form["scope"] == "" {
		tokenError(w, "invalid_scope", "Missing scope", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	access, _ := s.issueLocked(false)
	s.grants["token_exchange"]++
	s.mu.Unlock()

	var restricted []any
	if res := form["resource"]; res != "" {
		restricted = []any{map[string]any{"scope": form["scope"], "object": map[string]any{"type": "file", "id": "12345"}}}
	}
	s.tokenResponse(w, access, "", restricted)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	form := flatten(r.PostForm)
	s.mu.Lock()
	s.revokeForms = append(s.revokeForms, form)
	s.mu.Unlock()
	if !s.checkClient(w, form) {
		return
	}

	s.mu.Lock()
	token := form["token"]
	delete(s.access, token)
	delete(s.refresh, token)
	s.revoked = append(s.revoked, token)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := "1"
	if asUser := r.Header.Get("As-User"); asUser != "" {
		id = asUser
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": "user", "id": id, "name": "User " + id, "login": "user" + id + "@example.com"})
}

// handleItems serves Items with marker ("m<page>") or offset paging.
func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			apiError(w, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
		limit = min(n, 1000)
	}

	s.mu.Lock()
	items := s.Items
	s.mu.Unlock()

	if q.Get("usemarker") == "true" {
		page := 0
		if m := q.Get("marker"); m != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(m, "m"))
			if err != nil || !strings.HasPrefix(m, "m") || n < 0 {
				apiError(w, http.StatusBadRequest, "invalid_parameter", "invalid marker")
				return
			}
			page = n
		}
		start := min(page*limit, len(items))
		end := min(start+limit, len(items))
		next := ""
		if end < len(items) {
			next = "m" + strconv.Itoa(page+1)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entries":     items[start:end],
			"limit":       limit,
			"next_marker": next,
		})
		return
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			apiError(w, http.StatusBadRequest, "bad_request", "invalid offset")
			return
		}
		offset = n
	}
	start := min(offset, len(items))
	end := min(start+limit, len(items))
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":     items[start:end],
		"total_count": len(items),
		"offset":      offset,
		"limit":       limit,
	})
}

func (s *Server) tokenResponse(w http.ResponseWriter, access, refresh string, restricted []any) {
	resp := map[string]any{
		"access_token": access,
		"token_type":   "bearer",
		"expires_in":   s.ExpiresIn,
	}
	if refresh != "" {
		resp["refresh_token"] = refresh
	}
	if restricted != nil {
		resp["restricted_to"] = restricted
		resp["issued_token_type"] = "urn:ietf:params:oauth:token-type:access_token"
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

// tokenError sends an OAuth 2.0 error response
func tokenError(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}

// apiError sends a Box API error envelope
func apiError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"type":       "error",
		"status":     status,
		"code":       code,
		"message":    message,
		"request_id": "req-" + strconv.Itoa(status),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func flatten(v map[string][]string) map[string]string {
	out := make(map[string]string, len(v))
	for k, vs := range v {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// MakeItems returns n file items named file-0 .. file-(n-1).
func MakeItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{Type: "file", ID: strconv.Itoa(1000 + i), Name: "file-" + strconv.Itoa(i)}
	}
	return items
}
