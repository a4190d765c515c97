package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/leyline/core/internal/services"
)

var (
	// ErrInvalidAPIKey indicates the API key is invalid
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrAPIKeyNotFound indicates no API key was provided
	ErrAPIKeyNotFound = errors.New("API key not found")
)

const (
	// APIKeyHeader is the header name for API key
	APIKeyHeader = "X-API-Key"
	// APIKeyLength is the length of generated API keys (32 bytes = 64 hex chars)
	APIKeyLength = 32
	// APIKeyFile is the key file name inside the data directory
	APIKeyFile = "api_key.txt"
)

// APIKeyManager owns the key guarding /api. The key lives in a file in the
// data directory so the CLI and the server share it.
type APIKeyManager struct {
	mu   sync.RWMutex
	path string
	key  string
}

// NewAPIKeyManager loads the key stored in dataDir, generating one on first use
func NewAPIKeyManager(dataDir string) (*APIKeyManager, error) {
	m := &APIKeyManager{path: filepath.Join(dataDir, APIKeyFile)}

	stored, err := os.ReadFile(m.path)
	switch {
	case err == nil && strings.TrimSpace(string(stored)) != "":
		m.key = strings.TrimSpace(string(stored))
		return m, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	if _, err := m.rotate(); err != nil {
		return nil, err
	}
	return m, nil
}

// rotate writes a fresh key (owner read/write only) and makes it current.
// Callers other than the constructor hold mu.
func (m *APIKeyManager) rotate() (string, error) {
	raw := make([]byte, APIKeyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	key := hex.EncodeToString(raw)

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(m.path, []byte(key), 0600); err != nil {
		return "", err
	}
	m.key = key
	return key, nil
}

// GetCurrentKey returns the current API key
func (m *APIKeyManager) GetCurrentKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key
}

// ValidateKey compares key with the current key in constant time
func (m *APIKeyManager) ValidateKey(key string) bool {
	current := m.GetCurrentKey()
	if current == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(current), []byte(key)) == 1
}

// ResetKey replaces the key; the previous one stops validating immediately
func (m *APIKeyManager) ResetKey() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotate()
}

// APIKeyMiddleware rejects requests without a valid X-API-Key header
func APIKeyMiddleware(apiKeyManager *APIKeyManager, logService *services.LogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(APIKeyHeader)
		if apiKey == "" {
			abortUnauthorized(c, "API key is required")
			return
		}

		if !apiKeyManager.ValidateKey(apiKey) {
			logService.LogAPIKeyValidation(false, c.ClientIP())
			abortUnauthorized(c, "Invalid API key")
			return
		}

		logService.LogAPIKeyValidation(true, c.ClientIP())
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "AUTH_FAILED",
			"message": message,
		},
	})
}
