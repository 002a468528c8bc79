package core

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// StubUser is one account of the development login endpoint.
// Exactly one of Password and PasswordHash (bcrypt) should be set.
type StubUser struct {
	Login        string `yaml:"login"`
	Name         string `yaml:"name"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

type stubUsersFile struct {
	Users []StubUser `yaml:"users"`
}

// StubDirectory backs the development /api/login endpoint.
type StubDirectory struct {
	mu      sync.RWMutex
	byLogin map[string]StubUser
}

func NewStubDirectory(users []StubUser) *StubDirectory {
	d := &StubDirectory{byLogin: make(map[string]StubUser, len(users))}
	for _, u := range users {
		d.byLogin[u.Login] = u
	}
	return d
}

// LoadStubDirectory reads a YAML user list:
//
//	users:
//	  - login: sheer
//	    password: all
//	  - login: kdl
//	    password_hash: $2a$10$...
func LoadStubDirectory(path string) (*StubDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stub users: %w", err)
	}
	var f stubUsersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse stub users: %w", err)
	}
	for i, u := range f.Users {
		if strings.TrimSpace(u.Login) == "" {
			return nil, fmt.Errorf("stub user %d: login is required", i)
		}
	}
	return NewStubDirectory(f.Users), nil
}

// Len returns the number of accounts.
func (d *StubDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byLogin)
}

// Authenticate reports whether login/password match an account.
func (d *StubDirectory) Authenticate(login, password string) bool {
	d.mu.RLock()
	u, ok := d.byLogin[login]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	if u.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1
}

// StubLoginHandler answers POST /api/login with {"Success", "Session"}.
// Unknown credentials are a normal 200 reply with Success=false.
func StubLoginHandler(dir *StubDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.String(http.StatusBadRequest, "invalid json")
			return
		}
		if !dir.Authenticate(req.Username, req.Password) {
			log.Printf("[stub-login] rejected user=%q", req.Username)
			c.JSON(http.StatusOK, LoginReply{Success: false})
			return
		}
		c.JSON(http.StatusOK, LoginReply{Success: true, Session: uuid.NewString()})
	}
}
