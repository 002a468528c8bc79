package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func inputFile(t *testing.T, content string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stdin")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func loginServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		_, _ = body.ReadFrom(r.Body)
		if strings.Contains(body.String(), `"Password":"secret"`) {
			_, _ = w.Write([]byte(`{"Success":true,"Session":"abc123"}`))
			return
		}
		_, _ = w.Write([]byte(`{"Success":false}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runLogin(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_PATH", "")
	var out bytes.Buffer
	cmd := newRootCmd(inputFile(t, stdin), &out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoginCommandSuccess(t *testing.T) {
	srv := loginServer(t)
	out, err := runLogin(t, "alice\nsecret\n", "--url", srv.URL)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out) != "Code:abc123" {
		t.Fatalf("output = %q", out)
	}
}

func TestLoginCommandRejected(t *testing.T) {
	srv := loginServer(t)
	out, err := runLogin(t, "wrong\n", "-u", "alice", "--url", srv.URL)
	if !errors.Is(err, errNotAuthenticated) {
		t.Fatalf("expected errNotAuthenticated, got %v", err)
	}
	if strings.TrimSpace(out) != "Login failed." {
		t.Fatalf("output = %q", out)
	}
}

func TestLoginCommandUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out, err := runLogin(t, "secret\n", "-u", "alice", "--url", url, "--timeout", "2s")
	if !errors.Is(err, errNotAuthenticated) {
		t.Fatalf("expected errNotAuthenticated, got %v", err)
	}
	if !strings.HasPrefix(out, "Oops: ") {
		t.Fatalf("output = %q", out)
	}
}
