package core

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

type consoleClient struct {
	t    *testing.T
	base string
	http *http.Client
	csrf string
}

// newTestConsole serves the router and the stub login API from one server,
// with the login flows pointed back at that server.
func newTestConsole(t *testing.T, rec AttemptRecorder) *consoleClient {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := Defaults()
	cfg.LogDir = ""
	cfg.LoginBaseURL = srv.URL
	stub := NewStubDirectory([]StubUser{{Login: "sheer", Password: "all"}})
	views := NewViewSessions(NewHTTPLoginClient(srv.URL, ""), NewMemoryStateStore(), rec, 2*time.Second, time.Hour)
	handler = NewRouter(cfg, sessions.NewCookieStore([]byte(cfg.SessionKey)), views, stub)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &consoleClient{t: t, base: srv.URL, http: &http.Client{Jar: jar, Timeout: 5 * time.Second}}
}

func (c *consoleClient) do(method, path, body string, out any) int {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, strings.NewReader(body))
	if err != nil {
		c.t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if tok := resp.Header.Get("X-CSRF-Token"); tok != "" {
		c.csrf = tok
	}
	raw, _ := io.ReadAll(resp.Body)
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			c.t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode
}

func (c *consoleClient) waitSettled() AuthState {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var st AuthState
		if code := c.do(http.MethodGet, "/api/v1/auth/state", "", &st); code != http.StatusOK {
			c.t.Fatalf("state status = %d", code)
		}
		if st.Phase != PhasePending {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.t.Fatalf("login attempt did not settle")
	return AuthState{}
}

func (c *consoleClient) loggedIn() bool {
	c.t.Helper()
	var body struct {
		LoggedIn bool `json:"logged_in"`
	}
	if code := c.do(http.MethodGet, "/api/v1/auth/loggedin", "", &body); code != http.StatusOK {
		c.t.Fatalf("loggedin status = %d", code)
	}
	return body.LoggedIn
}

func TestRouterLoginFlow(t *testing.T) {
	rec := &memoryRecorder{}
	c := newTestConsole(t, rec)

	var st AuthState
	if code := c.do(http.MethodGet, "/api/v1/auth/state", "", &st); code != http.StatusOK || st.Phase != PhaseIdle {
		t.Fatalf("initial state code=%d st=%+v", code, st)
	}
	if c.loggedIn() {
		t.Fatalf("fresh view must not be logged in")
	}

	var accepted struct {
		Generation uint64    `json:"generation"`
		State      AuthState `json:"state"`
	}
	code := c.do(http.MethodPost, "/api/v1/auth/login", `{"username":"sheer","password":"all"}`, &accepted)
	if code != http.StatusAccepted || accepted.Generation == 0 {
		t.Fatalf("login code=%d body=%+v", code, accepted)
	}
	if accepted.State.Generation < accepted.Generation {
		t.Fatalf("accepted state is older than the attempt: %+v", accepted.State)
	}

	st = c.waitSettled()
	if st.Phase != PhaseAuthenticated || !strings.HasPrefix(st.DisplayMessage, "Code:") || len(st.DisplayMessage) <= len("Code:") {
		t.Fatalf("unexpected state after login: %+v", st)
	}
	if !c.loggedIn() {
		t.Fatalf("expected logged in after success")
	}

	c.do(http.MethodPost, "/api/v1/auth/login", `{"username":"sheer","password":"nope"}`, nil)
	st = c.waitSettled()
	if st.Phase != PhaseFailed || st.DisplayMessage != "Login failed." {
		t.Fatalf("unexpected state after rejection: %+v", st)
	}
	if c.loggedIn() {
		t.Fatalf("rejected attempt must log the view out")
	}

	var attempts struct {
		Items []AttemptRecord `json:"items"`
	}
	if code := c.do(http.MethodGet, "/api/v1/auth/attempts?limit=5", "", &attempts); code != http.StatusOK {
		t.Fatalf("attempts status = %d", code)
	}
	if len(attempts.Items) != 2 || attempts.Items[0].Outcome != OutcomeRejected || attempts.Items[1].Outcome != OutcomeSuccess {
		t.Fatalf("unexpected attempts: %+v", attempts.Items)
	}

	var status SystemStatus
	if code := c.do(http.MethodGet, "/api/v1/status", "", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if !status.StubLogin || status.Views.Failed != 1 {
		t.Fatalf("unexpected system status: %+v", status)
	}
}

func TestRouterResetRequiresCSRF(t *testing.T) {
	c := newTestConsole(t, nil)
	c.do(http.MethodPost, "/api/v1/auth/login", `{"username":"sheer","password":"all"}`, nil)
	c.waitSettled()

	token := c.csrf
	c.csrf = ""
	if code := c.do(http.MethodPost, "/api/v1/auth/reset", "", nil); code != http.StatusForbidden {
		t.Fatalf("reset without token = %d, want 403", code)
	}
	c.csrf = token
	if code := c.do(http.MethodPost, "/api/v1/auth/reset", "", nil); code != http.StatusNoContent {
		t.Fatalf("reset = %d, want 204", code)
	}
	if st := c.waitSettled(); st.Phase != PhaseIdle || c.loggedIn() {
		t.Fatalf("view should be idle after reset: %+v", st)
	}
}

func TestRouterRejectsBadInput(t *testing.T) {
	c := newTestConsole(t, nil)
	if code := c.do(http.MethodPost, "/api/v1/auth/login", `{"username":`, nil); code != http.StatusBadRequest {
		t.Fatalf("bad json = %d", code)
	}
	if code := c.do(http.MethodGet, "/api/v1/auth/attempts?limit=x", "", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", code)
	}
}

func TestParseLimit(t *testing.T) {
	cases := map[string]int{"": 20, "5": 5, "1000": 100}
	for in, want := range cases {
		got, err := parseLimit(in)
		if err != nil || got != want {
			t.Fatalf("parseLimit(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	for _, in := range []string{"0", "-1", "ten"} {
		if _, err := parseLimit(in); err == nil {
			t.Fatalf("parseLimit(%q) should fail", in)
		}
	}
}

func TestRouterRejectsForeignOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := Defaults()
	cfg.AllowedOrigins = []string{"https://console.test"}
	views := NewViewSessions(newFakeTransport(), nil, nil, 0, time.Hour)
	r := NewRouter(cfg, sessions.NewCookieStore([]byte(cfg.SessionKey)), views, nil)

	for origin, want := range map[string]int{
		"https://console.test": http.StatusOK,
		"https://evil.test":    http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/state", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("origin %s: status %d, want %d", origin, w.Code, want)
		}
		if want == http.StatusOK && w.Header().Get("Access-Control-Allow-Origin") != origin {
			t.Fatalf("missing CORS header for %s", origin)
		}
	}
}
