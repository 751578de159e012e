package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alertbridge/internal/errors"
)

type tokenServer struct {
	calls     atomic.Int32
	delay     time.Duration
	status    int
	expiresIn int
	rotate    bool

	mu    sync.Mutex
	forms []map[string]string
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.calls.Add(1)
	if err := r.ParseForm(); err == nil {
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		s.mu.Lock()
		s.forms = append(s.forms, form)
		s.mu.Unlock()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	w.Header().Set("Content-Type", "application/json")
	if s.status != 0 && s.status != http.StatusOK {
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
		return
	}

	resp := map[string]interface{}{
		"access_token": fmt.Sprintf("access-%d", n),
		"token_type":   "Bearer",
	}
	if s.expiresIn != 0 {
		resp["expires_in"] = s.expiresIn
	}
	if s.rotate {
		resp["refresh_token"] = fmt.Sprintf("refresh-%d", n)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *tokenServer) form(i int) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forms[i]
}

func newTestTokenManager(url string, opts ...TokenOption) *TokenManager {
	return NewTokenManager(OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost:3000/callback",
		RefreshToken: "refresh-0",
		TokenURL:     url,
		Timeout:      5 * time.Second,
	}, zerolog.Nop(), opts...)
}

func TestValidTokenRefreshGrant(t *testing.T) {
	srv := &tokenServer{expiresIn: 1200}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	tm := newTestTokenManager(ts.URL)
	tok, err := tm.ValidToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.Value != "access-1" {
		t.Fatalf("expected access-1, got %q", tok.Value)
	}
	if until := time.Until(tok.ExpiresAt); until < 19*time.Minute || until > 21*time.Minute {
		t.Fatalf("unexpected expiry %s", tok.ExpiresAt)
	}

	form := srv.form(0)
	want := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": "refresh-0",
		"client_id":     "client-id",
		"client_secret": "client-secret",
		"redirect_uri":  "http://localhost:3000/callback",
	}
	for k, v := range want {
		if form[k] != v {
			t.Fatalf("expected form %s=%q, got %q", k, v, form[k])
		}
	}
}

func TestValidTokenCachesUntilMargin(t *testing.T) {
	srv := &tokenServer{expiresIn: 3600}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	var offset atomic.Int64
	tm := newTestTokenManager(ts.URL, WithClock(func() time.Time {
		return time.Now().Add(time.Duration(offset.Load()))
	}))

	ctx := context.Background()
	first, err := tm.ValidToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := tm.ValidToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second || srv.calls.Load() != 1 {
		t.Fatalf("expected cached token, got %q then %q after %d calls", first.Value, second.Value, srv.calls.Load())
	}
	if !tm.IsAuthenticated() {
		t.Fatal("expected manager to report a valid token")
	}

	// 30s before expiry is inside the 60s margin.
	offset.Store(int64(3600*time.Second - 30*time.Second))
	if tm.IsAuthenticated() {
		t.Fatal("expected token inside the margin to be stale")
	}
	third, err := tm.ValidToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.Value != "access-2" || srv.calls.Load() != 2 {
		t.Fatalf("expected refresh inside margin, got %q after %d calls", third.Value, srv.calls.Load())
	}
}

func TestValidTokenSingleFlight(t *testing.T) {
	srv := &tokenServer{expiresIn: 3600, delay: 200 * time.Millisecond}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	tm := newTestTokenManager(ts.URL)

	const callers = 20
	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		tokens = make([]AccessToken, callers)
		errs   = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tokens[i], errs[i] = tm.ValidToken(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	if got := srv.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if tokens[i] != tokens[0] {
			t.Fatalf("caller %d got %q, expected %q", i, tokens[i].Value, tokens[0].Value)
		}
	}
}

func TestValidTokenFailureSharedByAllCallers(t *testing.T) {
	srv := &tokenServer{status: http.StatusBadRequest, delay: 200 * time.Millisecond}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	tm := newTestTokenManager(ts.URL)

	const callers = 10
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = tm.ValidToken(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	if got := srv.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", got)
	}
	for i, err := range errs {
		var authErr *errors.AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("caller %d: expected AuthError, got %v", i, err)
		}
		if authErr.StatusCode != http.StatusBadRequest {
			t.Fatalf("caller %d: expected status 400, got %d", i, authErr.StatusCode)
		}
		if err != errs[0] {
			t.Fatalf("caller %d: expected the shared error value", i)
		}
	}
}

func TestValidTokenMissingExpiry(t *testing.T) {
	srv := &tokenServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	_, err := newTestTokenManager(ts.URL).ValidToken(context.Background())
	var authErr *errors.AuthError
	if !errors.As(err, &authErr) || !errors.Is(err, errors.ErrUnexpectedResponse) {
		t.Fatalf("expected AuthError for missing expires_in, got %v", err)
	}
}

func TestValidTokenTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := newTestTokenManager(url).ValidToken(context.Background())
	var authErr *errors.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	srv := &tokenServer{expiresIn: 3600, rotate: true}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	tm := newTestTokenManager(ts.URL)
	ctx := context.Background()

	first, err := tm.ValidToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A stale value must not clear a newer token.
	tm.Invalidate("something-else")
	if !tm.IsAuthenticated() {
		t.Fatal("expected token to survive unrelated invalidation")
	}

	tm.Invalidate(first.Value)
	second, err := tm.ValidToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Value == first.Value || srv.calls.Load() != 2 {
		t.Fatalf("expected a new token after invalidation, got %q", second.Value)
	}
	if got := srv.form(1)["refresh_token"]; got != "refresh-1" {
		t.Fatalf("expected rotated refresh token to be used, got %q", got)
	}
}

func TestValidTokenHonoursCallerContext(t *testing.T) {
	srv := &tokenServer{expiresIn: 3600, delay: 300 * time.Millisecond}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	tm := newTestTokenManager(ts.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tm.ValidToken(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// The detached refresh still completes and serves the next caller.
	tok, err := tm.ValidToken(context.Background())
	if err != nil || tok.Value != "access-1" {
		t.Fatalf("expected detached refresh result, got %q, %v", tok.Value, err)
	}
}
