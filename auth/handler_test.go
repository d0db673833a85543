package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/mnehpets/swipelist/endpoint"
	"github.com/mnehpets/swipelist/middleware"
	"github.com/mnehpets/swipelist/spotify"
)

const testFrontend = "http://localhost:3000"

func newTestHandler(t *testing.T, remote Remote, opts ...Option) (*Handler, *middleware.SessionTransport) {
	t.Helper()
	tr := newTestTransport(t)
	h := NewHandler(remote, tr, Config{
		AuthURL:     "https://accounts.example.com/authorize",
		ClientID:    "client-1",
		RedirectURI: "http://localhost:5000/api/auth/callback",
		FrontendURL: testFrontend + "/",
	}, opts...)
	return h, tr
}

// pkceCookies returns the cookies a browser would hold after login.
func pkceCookies(t *testing.T, tr *middleware.SessionTransport, verifier, state string) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := tr.SetPKCE(rec, verifier, state); err != nil {
		t.Fatalf("SetPKCE: %v", err)
	}
	return rec.Result().Cookies()
}

func assertCleared(t *testing.T, set []*http.Cookie, names ...string) {
	t.Helper()
	for _, name := range names {
		c := findCookie(set, name)
		if c == nil {
			t.Errorf("%s: no Set-Cookie", name)
			continue
		}
		if c.MaxAge >= 0 {
			t.Errorf("%s: MaxAge = %d, want removal", name, c.MaxAge)
		}
	}
}

func assertNotSet(t *testing.T, set []*http.Cookie, names ...string) {
	t.Helper()
	for _, name := range names {
		if c := findCookie(set, name); c != nil && c.MaxAge >= 0 {
			t.Errorf("%s unexpectedly set", name)
		}
	}
}

func TestHandler_Login(t *testing.T) {
	h, tr := newTestHandler(t, &fakeRemote{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	u, err := url.Parse(body.AuthURL)
	if err != nil {
		t.Fatalf("parse authUrl: %v", err)
	}
	if !strings.HasPrefix(body.AuthURL, "https://accounts.example.com/authorize?") {
		t.Errorf("authUrl = %s", body.AuthURL)
	}

	set := rec.Result().Cookies()
	for _, name := range []string{middleware.VerifierCookie, middleware.StateCookie} {
		c := findCookie(set, name)
		if c == nil {
			t.Fatalf("%s not set", name)
		}
		if !c.HttpOnly || c.MaxAge != int(middleware.DefaultPKCETTL.Seconds()) {
			t.Errorf("%s attributes: HttpOnly=%v MaxAge=%d", name, c.HttpOnly, c.MaxAge)
		}
	}
	verifier, state := tr.PKCE(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), set))
	if len(verifier) != DefaultVerifierLength || len(state) != 2*DefaultStateBytes {
		t.Fatalf("verifier len %d, state len %d", len(verifier), len(state))
	}

	q := u.Query()
	want := map[string]string{
		"client_id":             "client-1",
		"response_type":         "code",
		"redirect_uri":          "http://localhost:5000/api/auth/callback",
		"code_challenge_method": "S256",
		"code_challenge":        DeriveChallenge(verifier),
		"state":                 state,
		"scope":                 strings.Join(DefaultScopes, " "),
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestHandler_LoginUsesRemoteAuthURL(t *testing.T) {
	remote := &fakeRemote{}
	h := NewHandler(remote, newTestTransport(t), Config{
		ClientID:    "client-1",
		RedirectURI: "http://localhost:5000/api/auth/callback",
		FrontendURL: testFrontend,
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(body.AuthURL, remote.AuthURL()+"?") {
		t.Errorf("authUrl = %s", body.AuthURL)
	}
}

func TestHandler_LoginReplacesAttempt(t *testing.T) {
	h, tr := newTestHandler(t, &fakeRemote{})

	states := make(map[string]bool)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))
		_, state := tr.PKCE(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), rec.Result().Cookies()))
		states[state] = true
	}
	if len(states) != 2 {
		t.Error("second login reused the first state")
	}
}

func callbackRequest(query string, cookies []*http.Cookie) *http.Request {
	return withCookies(httptest.NewRequest(http.MethodGet, "/api/auth/callback?"+query, nil), cookies)
}

func errorRedirect(msg string) string {
	return testFrontend + "/error?" + url.Values{"message": {msg}}.Encode()
}

func TestHandler_CallbackSuccess(t *testing.T) {
	var gotCode, gotVerifier string
	remote := &fakeRemote{
		exchange: func(code, verifier string) (*spotify.TokenPair, error) {
			gotCode, gotVerifier = code, verifier
			return &spotify.TokenPair{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600, TokenType: "Bearer"}, nil
		},
	}
	h, tr := newTestHandler(t, remote)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, callbackRequest("code=abc&state=s1", pkceCookies(t, tr, "verifier-1", "s1")))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != testFrontend+"/create-playlist" {
		t.Errorf("Location = %s", loc)
	}
	if gotCode != "abc" || gotVerifier != "verifier-1" {
		t.Errorf("exchange got code=%q verifier=%q", gotCode, gotVerifier)
	}

	set := rec.Result().Cookies()
	assertCleared(t, set, middleware.VerifierCookie, middleware.StateCookie)
	ac := findCookie(set, middleware.AccessTokenCookie)
	rc := findCookie(set, middleware.RefreshTokenCookie)
	if ac == nil || ac.MaxAge != 3600 || !ac.HttpOnly {
		t.Errorf("access cookie = %+v", ac)
	}
	if rc == nil || rc.MaxAge != int(middleware.DefaultRefreshTTL.Seconds()) {
		t.Errorf("refresh cookie = %+v", rc)
	}
	got := tr.Tokens(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), set))
	if got.AccessToken != "at" || got.RefreshToken != "rt" {
		t.Errorf("tokens = %+v", got)
	}
}

func TestHandler_CallbackFailures(t *testing.T) {
	exchangeErr := &spotify.TokenExchangeError{Status: http.StatusBadRequest, Code: "invalid_grant"}

	tests := []struct {
		name     string
		query    string
		verifier string
		state    string
		dropVer  bool
		exchange func(string, string) (*spotify.TokenPair, error)
		wantMsg  string
		wantCall int
	}{
		{name: "provider error", query: "error=access_denied&state=s1", verifier: "v", state: "s1", wantMsg: msgProviderError},
		{name: "provider error wins over bad state", query: "error=access_denied&state=other", verifier: "v", state: "s1", wantMsg: msgProviderError},
		{name: "missing state", query: "code=abc", verifier: "v", state: "s1", wantMsg: msgStateMismatch},
		{name: "state mismatch", query: "code=abc&state=evil", verifier: "v", state: "s1", wantMsg: msgStateMismatch},
		{name: "no stored state", query: "code=abc&state=s1", wantMsg: msgStateMismatch},
		{name: "missing verifier", query: "code=abc&state=s1", verifier: "v", state: "s1", dropVer: true, wantMsg: msgMissingVerifier},
		{name: "missing code", query: "state=s1", verifier: "v", state: "s1", wantMsg: msgMissingCode},
		{name: "oversized code", query: "code=" + strings.Repeat("a", 17000) + "&state=s1", verifier: "v", state: "s1", wantMsg: msgBadCallback},
		{
			name: "exchange failure", query: "code=abc&state=s1", verifier: "v", state: "s1",
			exchange: func(string, string) (*spotify.TokenPair, error) { return nil, exchangeErr },
			wantMsg:  msgExchangeFailed, wantCall: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &fakeRemote{exchange: tt.exchange}
			h, tr := newTestHandler(t, remote)

			var cookies []*http.Cookie
			if tt.state != "" {
				cookies = pkceCookies(t, tr, tt.verifier, tt.state)
			}
			if tt.dropVer {
				cookies = []*http.Cookie{findCookie(cookies, middleware.StateCookie)}
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, callbackRequest(tt.query, cookies))

			if rec.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", rec.Code)
			}
			if loc := rec.Header().Get("Location"); loc != errorRedirect(tt.wantMsg) {
				t.Errorf("Location = %s, want %s", loc, errorRedirect(tt.wantMsg))
			}
			if remote.exchangeCalls != tt.wantCall {
				t.Errorf("exchange calls = %d, want %d", remote.exchangeCalls, tt.wantCall)
			}
			set := rec.Result().Cookies()
			assertCleared(t, set, middleware.VerifierCookie, middleware.StateCookie)
			assertNotSet(t, set, middleware.AccessTokenCookie, middleware.RefreshTokenCookie)
		})
	}
}

func TestHandler_CallbackResultEndpoint(t *testing.T) {
	remote := &fakeRemote{
		exchange: func(string, string) (*spotify.TokenPair, error) {
			return &spotify.TokenPair{AccessToken: "at", ExpiresIn: 60}, nil
		},
	}
	var results []*AuthResult
	h, tr := newTestHandler(t, remote, WithResultEndpoint(func(w http.ResponseWriter, r *http.Request, res *AuthResult) (endpoint.Renderer, error) {
		results = append(results, res)
		if res.Error != nil {
			return nil, res.Error
		}
		return &endpoint.JSONRenderer{Value: map[string]string{"status": "ok"}}, nil
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, callbackRequest("code=abc&state=s1", pkceCookies(t, tr, "v", "s1")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(results) != 1 || results[0].Token == nil || results[0].Token.AccessToken != "at" {
		t.Fatalf("results = %+v", results)
	}
	if findCookie(rec.Result().Cookies(), middleware.AccessTokenCookie) == nil {
		t.Error("token cookie missing with custom result endpoint")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, callbackRequest("code=abc&state=wrong", pkceCookies(t, tr, "v", "s1")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(results) != 2 || !errors.Is(results[1].Error, ErrCSRFMismatch) {
		t.Errorf("second result = %+v", results[1])
	}
	assertCleared(t, rec.Result().Cookies(), middleware.VerifierCookie, middleware.StateCookie)
}

func TestHandler_Me(t *testing.T) {
	t.Run("no cookie", func(t *testing.T) {
		remote := &fakeRemote{}
		h, _ := newTestHandler(t, remote)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != `{"authenticated":false}` {
			t.Errorf("body = %s", rec.Body.String())
		}
		if remote.userCalls != 0 {
			t.Error("upstream called without a token")
		}
	})

	t.Run("valid", func(t *testing.T) {
		remote := &fakeRemote{user: func(tok string) (*spotify.User, error) {
			return &spotify.User{ID: "u1", DisplayName: "Ada", Email: "ada@example.com",
				Images: []spotify.Image{{URL: "https://img/1"}}}, nil
		}}
		h, tr := newTestHandler(t, remote)
		rec := httptest.NewRecorder()
		cookies := tokenCookies(t, tr, middleware.TokenGrant{AccessToken: "at", ExpiresIn: 3600})
		h.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), cookies))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body MeResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !body.Authenticated || body.User == nil || body.User.DisplayName != "Ada" || len(body.User.Images) != 1 {
			t.Errorf("body = %+v", body)
		}
	})

	t.Run("expired", func(t *testing.T) {
		remote := &fakeRemote{user: userForToken("other")}
		h, tr := newTestHandler(t, remote)
		rec := httptest.NewRecorder()
		cookies := tokenCookies(t, tr, middleware.TokenGrant{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600})
		h.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), cookies))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		if remote.refreshCalls != 0 {
			t.Error("me route refreshed")
		}
	})

	t.Run("upstream failure", func(t *testing.T) {
		remote := &fakeRemote{user: func(string) (*spotify.User, error) {
			return nil, &spotify.APIError{Status: http.StatusInternalServerError}
		}}
		h, tr := newTestHandler(t, remote)
		rec := httptest.NewRecorder()
		cookies := tokenCookies(t, tr, middleware.TokenGrant{AccessToken: "at", ExpiresIn: 3600})
		h.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), cookies))
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
	})
}

func TestHandler_Logout(t *testing.T) {
	h, tr := newTestHandler(t, &fakeRemote{})
	cookies := tokenCookies(t, tr, middleware.TokenGrant{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600})

	for _, method := range []string{http.MethodPost, http.MethodGet} {
		for _, withSession := range []bool{true, false} {
			r := httptest.NewRequest(method, "/api/auth/logout", nil)
			if withSession {
				r = withCookies(r, cookies)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			if rec.Code != http.StatusOK {
				t.Fatalf("%s session=%v: status = %d", method, withSession, rec.Code)
			}
			if strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
				t.Errorf("body = %s", rec.Body.String())
			}
			assertCleared(t, rec.Result().Cookies(), middleware.AccessTokenCookie, middleware.RefreshTokenCookie)
		}
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRemote{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
