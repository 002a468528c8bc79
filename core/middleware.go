package core

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const sessionName = "cloudui_session"
const sessionMaxAge = 18000 // 5h

const (
	sessionKeyViewID = "view_id"
	sessionKeyCSRF   = "csrf_token"
	ctxKeySession    = "session"
	ctxKeyViewID     = "view_id"
	headerCSRF       = "X-CSRF-Token"
)

// SessionMiddleware binds every browser to a view session id kept in a
// gorilla cookie session.
func SessionMiddleware(cfg Config, store sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := loadSession(c, store)
		if !ok {
			return
		}

		viewID, _ := session.Values[sessionKeyViewID].(string)
		if viewID == "" {
			viewID = NewViewID()
			session.Values[sessionKeyViewID] = viewID
		}
		if !saveSession(c, cfg, session) {
			return
		}

		c.Set(ctxKeySession, session)
		c.Set(ctxKeyViewID, viewID)
		c.Next()
	}
}

// NewViewID returns a fresh view session id.
func NewViewID() string {
	return uuid.NewString()
}

func viewIDFrom(c *gin.Context) string {
	return c.GetString(ctxKeyViewID)
}

// loadSession returns the request's session. A cookie that fails to decode
// still yields a fresh session, so only a missing session is an error.
func loadSession(c *gin.Context, store sessions.Store) (*sessions.Session, bool) {
	if v, ok := c.Get(ctxKeySession); ok {
		if s, ok := v.(*sessions.Session); ok && s != nil {
			return s, true
		}
	}
	session, err := store.Get(c.Request, sessionName)
	if err != nil && session == nil {
		respondError(c, http.StatusInternalServerError, codeInternal, "session error")
		return nil, false
	}
	return session, true
}

func saveSession(c *gin.Context, cfg Config, session *sessions.Session) bool {
	applySessionOptions(cfg, session)
	if err := session.Save(c.Request, c.Writer); err != nil {
		respondError(c, http.StatusInternalServerError, codeInternal, "failed to persist session")
		return false
	}
	return true
}

// originPolicy is the allow-list used for CORS and cross-site checks.
type originPolicy map[string]struct{}

func newOriginPolicy(origins []string) originPolicy {
	p := make(originPolicy, len(origins))
	for _, o := range origins {
		p[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return p
}

// allows accepts same-origin requests (no Origin) and listed origins.
func (p originPolicy) allows(origin string) bool {
	if origin == "" {
		return true
	}
	_, ok := p[strings.ToLower(origin)]
	return ok
}

// requestOrigin prefers Origin and falls back to the Referer's scheme://host.
func requestOrigin(c *gin.Context) string {
	if origin := c.GetHeader("Origin"); origin != "" {
		return origin
	}
	if ref := c.GetHeader("Referer"); ref != "" {
		if u, err := url.Parse(ref); err == nil && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return ""
}

// OriginRefererMiddleware rejects cross-site requests from origins outside
// cfg.AllowedOrigins and answers CORS preflights for allowed ones.
func OriginRefererMiddleware(cfg Config) gin.HandlerFunc {
	policy := newOriginPolicy(cfg.AllowedOrigins)
	return func(c *gin.Context) {
		origin := requestOrigin(c)
		if !policy.allows(origin) {
			respondError(c, http.StatusForbidden, codeForbidden, "origin not allowed")
			return
		}
		if origin != "" {
			setCORSHeaders(c, origin)
		}
		if c.Request.Method == http.MethodOptions && origin != "" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func setCORSHeaders(c *gin.Context, origin string) {
	h := c.Writer.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Headers", "Content-Type, "+headerCSRF)
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Expose-Headers", headerCSRF)
	h.Add("Vary", "Origin")
}

// CSRFMiddleware keeps one token per session and requires it in the
// X-CSRF-Token header of unsafe requests, except on the login endpoints.
func CSRFMiddleware(cfg Config, store sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := loadSession(c, store)
		if !ok {
			return
		}

		token, _ := session.Values[sessionKeyCSRF].(string)
		if token == "" {
			var err error
			if token, err = newCSRFToken(); err != nil {
				respondError(c, http.StatusInternalServerError, codeInternal, "failed to issue csrf token")
				return
			}
			session.Values[sessionKeyCSRF] = token
			if !saveSession(c, cfg, session) {
				return
			}
		}

		if !isSafeMethod(c.Request.Method) && !csrfExemptPath(c.Request.URL.Path) {
			if got := c.GetHeader(headerCSRF); got == "" || got != token {
				respondError(c, http.StatusForbidden, codeForbidden, "invalid csrf token")
				return
			}
		}

		c.Header(headerCSRF, token)
		c.Next()
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// Login submissions carry no session token yet.
func csrfExemptPath(path string) bool {
	return path == "/api/v1/auth/login" || path == DefaultLoginPath
}

func newCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func applySessionOptions(cfg Config, session *sessions.Session) {
	session.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: sameSiteFromString(cfg.CookieSameSite),
	}
}

func sameSiteFromString(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	}
	return http.SameSiteStrictMode
}
