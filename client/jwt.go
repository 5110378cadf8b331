package client

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/youmark/pkcs8"

	bc "github.com/panyam/boxconn"
)

const (
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// DefaultAssertionTTL is how long a JWT assertion is valid. Box rejects
	// assertions that live longer than 60 seconds.
	DefaultAssertionTTL = 30 * time.Second
	maxAssertionTTL     = 60 * time.Second
)

// JWTConfig describes the key pair and subject for the JWT grant.
type JWTConfig struct {
	SubjectType SubjectType
	SubjectID   string
	PublicKeyID string
	PrivateKey  *rsa.PrivateKey

	// Algorithm is RS256 (default), RS384 or RS512.
	Algorithm string

	// AssertionTTL defaults to DefaultAssertionTTL.
	AssertionTTL time.Duration
}

// Validate checks the JWT settings before any token request is made.
func (j JWTConfig) Validate() error {
	if !j.SubjectType.valid() {
		return &bc.ConfigurationError{Field: "box_sub_type", Reason: fmt.Sprintf("unsupported subject type %q", j.SubjectType)}
	}
	if j.SubjectID == "" {
		return &bc.ConfigurationError{Field: "sub", Reason: "required"}
	}
	if j.PrivateKey == nil {
		return &bc.ConfigurationError{Field: "private_key", Reason: "required"}
	}
	if _, err := j.signingMethod(); err != nil {
		return err
	}
	if j.AssertionTTL > maxAssertionTTL {
		return &bc.ConfigurationError{Field: "exp", Reason: "assertion lifetime must not exceed 60s"}
	}
	return nil
}

func (j JWTConfig) signingMethod() (jwt.SigningMethod, error) {
	switch strings.ToUpper(j.Algorithm) {
	case "", "RS256":
		return jwt.SigningMethodRS256, nil
	case "RS384":
		return jwt.SigningMethodRS384, nil
	case "RS512":
		return jwt.SigningMethodRS512, nil
	}
	return nil, &bc.ConfigurationError{Field: "algorithm", Reason: fmt.Sprintf("unsupported algorithm %q", j.Algorithm)}
}

// JWTGrant mints tokens for a service account or app user from a signed
// assertion (grant_type=urn:ietf:params:oauth:grant-type:jwt-bearer).
type JWTGrant struct {
	Credentials bc.ClientCredentials
	Config      JWTConfig
}

func (g *JWTGrant) Grant() string { return "jwt" }

func (g *JWTGrant) CanRefresh(bc.TokenState) bool { return true }

func (g *JWTGrant) CacheKey() string {
	return CacheKey(g.Credentials.ClientID, g.Config.SubjectType, g.Config.SubjectID)
}

// Exchange signs a fresh assertion and trades it for an access token. If the
// server rejects the assertion's exp claim (local clock skew), it is re-signed
// once using the server's Date header as the current time.
func (g *JWTGrant) Exchange(ctx context.Context, ep *TokenEndpoint, current bc.TokenState) (bc.TokenState, error) {
	resp, err := g.post(ctx, ep, ep.Now())
	if err != nil {
		return current, err
	}
	if isExpClaimRejection(resp) {
		if serverNow, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
			ep.Logger().Debug().Time("server_time", serverNow).Msg("assertion exp rejected, re-signing with server time")
			if resp, err = g.post(ctx, ep, serverNow); err != nil {
				return current, err
			}
		}
	}

	tr, err := decodeTokenResponse(resp)
	if err != nil {
		return current, err
	}
	return bc.NewTokenState(tr.AccessToken, "", tr.ExpiresIn, ep.Now()), nil
}

func (g *JWTGrant) post(ctx context.Context, ep *TokenEndpoint, now time.Time) (*Response, error) {
	assertion, err := g.Assertion(ep.URL(), now)
	if err != nil {
		return nil, err
	}
	return ep.Post(ctx, url.Values{
		"grant_type":    {jwtBearerGrant},
		"assertion":     {assertion},
		"client_id":     {g.Credentials.ClientID},
		"client_secret": {g.Credentials.ClientSecret},
	})
}

// Assertion builds the signed JWT for audience at now.
func (g *JWTGrant) Assertion(audience string, now time.Time) (string, error) {
	method, err := g.Config.signingMethod()
	if err != nil {
		return "", err
	}
	ttl := g.Config.AssertionTTL
	if ttl <= 0 {
		ttl = DefaultAssertionTTL
	}

	claims := jwt.MapClaims{
		"iss":          g.Credentials.ClientID,
		"sub":          g.Config.SubjectID,
		"box_sub_type": string(g.Config.SubjectType),
		"aud":          audience,
		"jti":          uuid.NewString(),
		"exp":          now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(method, claims)
	if g.Config.PublicKeyID != "" {
		token.Header["kid"] = g.Config.PublicKeyID
	}
	signed, err := token.SignedString(g.Config.PrivateKey)
	if err != nil {
		return "", &bc.ConfigurationError{Field: "private_key", Reason: "failed to sign assertion", Err: err}
	}
	return signed, nil
}

func isExpClaimRejection(resp *Response) bool {
	if resp.StatusCode != http.StatusBadRequest {
		return false
	}
	var body TokenResponse
	if json.Unmarshal(resp.Body, &body) != nil {
		return false
	}
	return body.Error == "invalid_grant" && strings.Contains(body.ErrorDesc, "'exp'")
}

// ParsePrivateKey decodes a PEM RSA private key. Encrypted PKCS#8 keys are
// decrypted with passphrase; PKCS#1 and unencrypted PKCS#8 keys ignore it.
func ParsePrivateKey(pemBytes []byte, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, &bc.ConfigurationError{Field: "private_key", Reason: "no PEM block found"}
	}

	var (
		key *rsa.PrivateKey
		err error
	)
	switch block.Type {
	case "ENCRYPTED PRIVATE KEY":
		if passphrase == "" {
			return nil, &bc.ConfigurationError{Field: "passphrase", Reason: "required for encrypted key"}
		}
		key, err = pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(passphrase))
	case "PRIVATE KEY":
		key, err = pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		err = fmt.Errorf("unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, &bc.ConfigurationError{Field: "private_key", Err: err}
	}
	return key, nil
}

// AppConfig is the JSON settings file the Box developer console generates for
// a JWT app.
type AppConfig struct {
	BoxAppSettings struct {
		ClientID     string `json:"clientID"`
		ClientSecret string `json:"clientSecret"`
		AppAuth      struct {
			PublicKeyID string `json:"publicKeyID"`
			PrivateKey  string `json:"privateKey"`
			Passphrase  string `json:"passphrase"`
		} `json:"appAuth"`
	} `json:"boxAppSettings"`
	EnterpriseID string `json:"enterpriseID"`
}

// ReadAppConfig decodes an app settings file.
func ReadAppConfig(r io.Reader) (*AppConfig, error) {
	var cfg AppConfig
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, &bc.ConfigurationError{Field: "app_config", Err: err}
	}
	if cfg.BoxAppSettings.ClientID == "" {
		return nil, &bc.ConfigurationError{Field: "boxAppSettings.clientID", Reason: "required"}
	}
	return &cfg, nil
}

// Credentials returns the app's client credentials.
func (a *AppConfig) Credentials() bc.ClientCredentials {
	return bc.ClientCredentials{
		ClientID:     a.BoxAppSettings.ClientID,
		ClientSecret: a.BoxAppSettings.ClientSecret,
	}
}

// JWTConfig builds the JWT settings for the enterprise service account. Pass
// a user ID to authenticate as an app user instead.
func (a *AppConfig) JWTConfig(userID string) (JWTConfig, error) {
	auth := a.BoxAppSettings.AppAuth
	key, err := ParsePrivateKey([]byte(auth.PrivateKey), auth.Passphrase)
	if err != nil {
		return JWTConfig{}, err
	}
	cfg := JWTConfig{
		SubjectType: SubjectEnterprise,
		SubjectID:   a.EnterpriseID,
		PublicKeyID: auth.PublicKeyID,
		PrivateKey:  key,
	}
	if userID != "" {
		cfg.SubjectType = SubjectUser
		cfg.SubjectID = userID
	}
	if cfg.SubjectID == "" {
		return JWTConfig{}, &bc.ConfigurationError{Field: "enterpriseID", Err: errors.New("no enterprise or user to authenticate as")}
	}
	return cfg, nil
}
