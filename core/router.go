package core

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

const (
	defaultAttemptsLimit = 20
	maxAttemptsLimit     = 100
)

// NewRouter constructs the Gin engine with routes wired. stub may be nil, in
// which case /api/login is expected to be served elsewhere.
func NewRouter(cfg Config, store sessions.Store, views *ViewSessions, stub *StubDirectory) *gin.Engine {
	startedAt := time.Now()
	r := gin.Default()

	// Global middleware: origin/CORS -> session -> CSRF
	r.Use(OriginRefererMiddleware(cfg))
	r.Use(SessionMiddleware(cfg, store))
	r.Use(CSRFMiddleware(cfg, store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if stub != nil {
		r.POST(DefaultLoginPath, StubLoginHandler(stub))
	}

	api := r.Group("/api/v1")
	{
		api.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, CollectSystemStatus(views, stub != nil, startedAt))
		})

		api.GET("/auth/state", func(c *gin.Context) {
			st, err := views.State(c.Request.Context(), viewIDFrom(c))
			if err != nil {
				respondError(c, http.StatusInternalServerError, codeInternal, "failed to load state")
				return
			}
			c.JSON(http.StatusOK, st)
		})

		api.POST("/auth/login", func(c *gin.Context) {
			var req struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, codeValidation, "invalid json")
				return
			}

			flow := views.Flow(c.Request.Context(), viewIDFrom(c))
			attempt := flow.AttemptLogin(Credentials{Username: req.Username, Password: req.Password})
			c.JSON(http.StatusAccepted, gin.H{
				"generation": attempt.Generation,
				"state":      flow.State(),
			})
		})

		api.GET("/auth/loggedin", func(c *gin.Context) {
			st, err := views.State(c.Request.Context(), viewIDFrom(c))
			if err != nil {
				respondError(c, http.StatusInternalServerError, codeInternal, "failed to load state")
				return
			}
			c.JSON(http.StatusOK, gin.H{"logged_in": st.IsAuthenticated})
		})

		api.GET("/auth/attempts", func(c *gin.Context) {
			limit, err := parseLimit(c.Query("limit"))
			if err != nil {
				respondError(c, http.StatusBadRequest, codeValidation, err.Error())
				return
			}
			items, err := views.Recent(c.Request.Context(), viewIDFrom(c), limit)
			if err != nil {
				respondError(c, http.StatusInternalServerError, codeInternal, "failed to list attempts")
				return
			}
			c.JSON(http.StatusOK, gin.H{"items": items})
		})

		api.POST("/auth/reset", func(c *gin.Context) {
			if err := views.Drop(c.Request.Context(), viewIDFrom(c)); err != nil && !errors.Is(err, ErrViewNotFound) {
				respondError(c, http.StatusInternalServerError, codeInternal, "failed to reset view")
				return
			}
			c.Status(http.StatusNoContent)
		})
	}

	return r
}

func parseLimit(s string) (int, error) {
	if strings.TrimSpace(s) == "" {
		return defaultAttemptsLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxAttemptsLimit {
		n = maxAttemptsLimit
	}
	return n, nil
}
