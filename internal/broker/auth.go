package broker

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"alertbridge/internal/errors"
	"alertbridge/internal/logging"
)

// DefaultExpiryMargin is how long before actual expiry a token is treated as
// stale.
const DefaultExpiryMargin = 60 * time.Second

// AccessToken is a bearer token together with the instant it stops working.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// validAt reports whether the token is usable at now given the safety margin.
func (t AccessToken) validAt(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// OAuthConfig holds the credentials for the refresh-token grant.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	RefreshToken string
	TokenURL     string
	AuthorizeURL string
	Timeout      time.Duration
}

// OAuth2Config returns the golang.org/x/oauth2 view of the credentials.
func (c OAuthConfig) OAuth2Config(scopes ...string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthorizeURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// TokenManager owns the process-wide access token. Concurrent callers that
// find the token stale share a single refresh call.
type TokenManager struct {
	oauth  *oauth2.Config
	client *http.Client
	margin time.Duration
	now    func() time.Time
	log    zerolog.Logger

	redirectURI string

	mu           sync.RWMutex
	token        AccessToken
	refreshToken string

	group singleflight.Group
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithHTTPClient sets the HTTP client used for the token endpoint.
func WithHTTPClient(c *http.Client) TokenOption {
	return func(tm *TokenManager) { tm.client = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) { tm.now = now }
}

// WithExpiryMargin overrides DefaultExpiryMargin.
func WithExpiryMargin(d time.Duration) TokenOption {
	return func(tm *TokenManager) { tm.margin = d }
}

// NewTokenManager creates a token manager for the given credentials.
func NewTokenManager(cfg OAuthConfig, logger zerolog.Logger, opts ...TokenOption) *TokenManager {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tm := &TokenManager{
		oauth:        cfg.OAuth2Config(),
		client:       &http.Client{Timeout: timeout},
		margin:       DefaultExpiryMargin,
		now:          time.Now,
		log:          logger.With().Str("component", "token_manager").Logger(),
		redirectURI:  cfg.RedirectURI,
		refreshToken: cfg.RefreshToken,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// ValidToken returns the cached token, refreshing it first when it is
// missing or within the expiry margin. A failed refresh yields an
// *errors.AuthError; it is not retried.
func (tm *TokenManager) ValidToken(ctx context.Context) (AccessToken, error) {
	if tok, ok := tm.cached(); ok {
		return tok, nil
	}

	// The refresh runs detached from the first caller's cancellation so that
	// other waiters are not failed by it.
	ch := tm.group.DoChan("refresh", func() (interface{}, error) {
		if tok, ok := tm.cached(); ok {
			return tok, nil
		}
		return tm.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		return res.Val.(AccessToken), nil
	case <-ctx.Done():
		return AccessToken{}, errors.NewAuthError(0, "", ctx.Err())
	}
}

// Invalidate drops the cached token if it still holds value. Called after the
// brokerage answers 401 for that token.
func (tm *TokenManager) Invalidate(value string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.token.Value == value {
		tm.token = AccessToken{}
	}
}

// IsAuthenticated reports whether a cached token is usable without a refresh.
func (tm *TokenManager) IsAuthenticated() bool {
	_, ok := tm.cached()
	return ok
}

func (tm *TokenManager) cached() (AccessToken, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.token.validAt(tm.now(), tm.margin) {
		return tm.token, true
	}
	return AccessToken{}, false
}

func (tm *TokenManager) refresh(ctx context.Context) (AccessToken, error) {
	tm.mu.RLock()
	refreshToken := tm.refreshToken
	tm.mu.RUnlock()

	if refreshToken == "" {
		return AccessToken{}, errors.NewAuthError(0, "", errors.ErrInvalidCredentials)
	}

	log := tm.log
	if id := logging.RequestIDFromContext(ctx); id != "" {
		log = logging.WithRequestID(log, id)
	}

	if tm.client.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tm.client.Timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, tm.grantClient())

	started := time.Now()
	tok, err := tm.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(started)).Msg("Access token refresh failed")
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return AccessToken{}, errors.NewAuthError(re.Response.StatusCode, string(re.Body), err)
		}
		return AccessToken{}, errors.NewAuthError(0, "", err)
	}
	if tok.Expiry.IsZero() {
		return AccessToken{}, errors.NewAuthError(0, "", errors.Wrap(errors.ErrUnexpectedResponse, "token response missing expires_in"))
	}

	access := AccessToken{Value: tok.AccessToken, ExpiresAt: tok.Expiry}

	tm.mu.Lock()
	tm.token = access
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		// Rotated refresh tokens live in memory only.
		tm.refreshToken = tok.RefreshToken
	}
	tm.mu.Unlock()

	log.Info().
		Time("expires_at", access.ExpiresAt).
		Dur("duration", time.Since(started)).
		Msg("Obtained new access token")

	return access, nil
}

// grantClient returns tm.client with redirect_uri added to refresh grants.
// x/oauth2 only sends it with authorization codes.
func (tm *TokenManager) grantClient() *http.Client {
	if tm.redirectURI == "" {
		return tm.client
	}
	c := *tm.client
	c.Transport = &redirectTransport{base: tm.client.Transport, redirectURI: tm.redirectURI}
	return &c
}

type redirectTransport struct {
	base        http.RoundTripper
	redirectURI string
}

func (t *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Method != http.MethodPost || req.Body == nil {
		return base.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	if form, err := url.ParseQuery(string(body)); err == nil &&
		form.Get("grant_type") == "refresh_token" && form.Get("redirect_uri") == "" {
		form.Set("redirect_uri", t.redirectURI)
		body = []byte(form.Encode())
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return base.RoundTrip(out)
}
