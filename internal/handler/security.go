package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
)

// APIKeyHeader carries the client API key.
const APIKeyHeader = "api_key"

// SecurityHandler authenticates requests via HMAC-SHA256 hashed API keys.
// Only hashes are configured; raw keys are never stored.
type SecurityHandler struct {
	pepper []byte
	hashes [][]byte
}

// NewSecurityHandler creates a SecurityHandler accepting keys whose
// hex-encoded HMAC-SHA256 under pepper is listed in keyHashes. With no hashes
// every request is accepted.
func NewSecurityHandler(pepper []byte, keyHashes []string) (*SecurityHandler, error) {
	s := &SecurityHandler{pepper: pepper}
	for _, h := range keyHashes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, errors.Wrapf(err, "decode api key hash %q", h)
		}
		if len(b) != sha256.Size {
			return nil, errors.Errorf("api key hash %q: want %d bytes, got %d", h, sha256.Size, len(b))
		}
		s.hashes = append(s.hashes, b)
	}
	return s, nil
}

// HashAPIKey returns the hex-encoded HMAC-SHA256 of key under pepper.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Enabled reports whether any API key is configured.
func (s *SecurityHandler) Enabled() bool {
	return len(s.hashes) > 0
}

// Authenticate reports whether key matches a configured hash. Every hash is
// compared in constant time.
func (s *SecurityHandler) Authenticate(key string) bool {
	if key == "" {
		return false
	}
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(key))
	sum := mac.Sum(nil)

	match := 0
	for _, h := range s.hashes {
		match |= subtle.ConstantTimeCompare(sum, h)
	}
	return match == 1
}

// Middleware rejects requests without a valid API key with 401.
func (s *SecurityHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Enabled() && !s.Authenticate(r.Header.Get(APIKeyHeader)) {
			writeErrorMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
