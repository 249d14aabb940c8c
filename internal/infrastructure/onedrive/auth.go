package onedrive

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
)

const graphScope = "https://graph.microsoft.com/.default"

// TokenResponse represents OAuth2 token response
type TokenResponse struct {
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	AccessToken string `json:"access_token"`
}

type cachedToken struct {
	value   string
	expires time.Time
}

// Auth obtains application (client credentials) tokens for storages and
// caches them until shortly before they expire.
type Auth struct {
	loginURL string
	http     *resty.Client
	now      func() time.Time

	mu     sync.Mutex
	tokens map[string]cachedToken
}

// NewAuth creates a new Auth instance
func NewAuth(loginURL string, timeout time.Duration) *Auth {
	return &Auth{
		loginURL: strings.TrimRight(loginURL, "/"),
		http:     resty.New().SetTimeout(timeout),
		now:      time.Now,
		tokens:   make(map[string]cachedToken),
	}
}

// Token returns a valid access token for storage
func (a *Auth) Token(ctx context.Context, storage *types.Storage) (string, error) {
	key := storage.TenantID + "/" + storage.ClientID

	a.mu.Lock()
	defer a.mu.Unlock()

	if tok, ok := a.tokens[key]; ok && a.now().Before(tok.expires) {
		return tok.value, nil
	}

	var body TokenResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     storage.ClientID,
			"client_secret": storage.ClientSecret,
			"grant_type":    "client_credentials",
			"scope":         graphScope,
		}).
		SetResult(&body).
		Post(fmt.Sprintf("%s/%s/oauth2/v2.0/token", a.loginURL, storage.TenantID))
	if err != nil {
		return "", errors.Transport(ctx, fmt.Errorf("token request failed: %w", err))
	}

	switch {
	case resp.StatusCode() == http.StatusOK && body.AccessToken != "":
	case resp.StatusCode() == http.StatusBadRequest || resp.StatusCode() == http.StatusUnauthorized:
		return "", errors.Unauthorized("token request rejected").
			WithDetails("storage", storage.Name).
			WithDetails("status", resp.StatusCode())
	default:
		return "", errors.ProviderError("token request failed").
			WithDetails("storage", storage.Name).
			WithDetails("status", resp.StatusCode())
	}

	// refresh a minute early so in-flight requests do not race the expiry
	ttl := time.Duration(body.ExpiresIn)*time.Second - time.Minute
	if ttl < 0 {
		ttl = 0
	}
	a.tokens[key] = cachedToken{value: body.AccessToken, expires: a.now().Add(ttl)}

	return body.AccessToken, nil
}
