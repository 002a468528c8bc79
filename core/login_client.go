package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
)

// DefaultLoginPath is where the login API lives relative to its base URL.
const DefaultLoginPath = "/api/login"

// maxErrorBody bounds how much of a failed reply ends up in the display message.
const maxErrorBody = 4096

var ErrEmptyBaseURL = errors.New("login api url not configured")

// LoginTransport performs one login request. A nil error means the request
// completed on the success channel, whatever the server decided; a non-nil
// error is the transport channel.
type LoginTransport interface {
	Login(ctx context.Context, creds Credentials) (LoginReply, error)
}

// loginRequest is the wire body. Field names are part of the API.
type loginRequest struct {
	Username string `json:"Username"`
	Password string `json:"Password"`
}

// LoginReply is the decoded success-channel body.
type LoginReply struct {
	Success bool   `json:"Success"`
	Session string `json:"Session,omitempty"`
}

// TransportError is returned for network failures, non-2xx replies and
// replies that are not a login document.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("login api returned status %d: %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return "login request failed: " + e.Err.Error()
	default:
		return "login request failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Detail is what the view shows after "Oops: ".
func (e *TransportError) Detail() string {
	if e.Body != "" {
		return e.Body
	}
	if e.StatusCode != 0 {
		return http.StatusText(e.StatusCode)
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return "timeout"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// HTTPLoginClient calls the login API over HTTP.
type HTTPLoginClient struct {
	client   *http.Client
	endpoint string
}

// NewHTTPLoginClient builds a client for baseURL + path. An empty path means
// DefaultLoginPath.
func NewHTTPLoginClient(baseURL, path string) *HTTPLoginClient {
	if path == "" {
		path = DefaultLoginPath
	}
	endpoint := ""
	if baseURL != "" {
		endpoint = strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	return &HTTPLoginClient{
		client:   cleanhttp.DefaultPooledClient(),
		endpoint: endpoint,
	}
}

// Endpoint returns the full login URL.
func (c *HTTPLoginClient) Endpoint() string { return c.endpoint }

// Login posts the credentials and decodes the reply.
func (c *HTTPLoginClient) Login(ctx context.Context, creds Credentials) (LoginReply, error) {
	if c.endpoint == "" {
		return LoginReply{}, &TransportError{Err: ErrEmptyBaseURL}
	}

	b, err := json.Marshal(loginRequest{Username: creds.Username, Password: creds.Password})
	if err != nil {
		return LoginReply{}, &TransportError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return LoginReply{}, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return LoginReply{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Printf("login api status=%d endpoint=%s", resp.StatusCode, c.endpoint)
		return LoginReply{}, &TransportError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var reply LoginReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return LoginReply{}, &TransportError{Err: fmt.Errorf("invalid login reply: %w", err)}
	}
	return reply, nil
}
