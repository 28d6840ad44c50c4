package grok

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// TokenType names a pool in token.json.
type TokenType string

const (
	TokenNormal TokenType = "sso"
	TokenSuper  TokenType = "ssoSuper"

	StatusActive  = "active"
	StatusExpired = "expired"

	TokenFileName = "token.json"
)

// GrokTokenStorage is the metadata kept for one SSO token.
type GrokTokenStorage struct {
	SSOToken              string `json:"-"`
	CFClearance           string `json:"cf_clearance,omitempty"`
	Status                string `json:"status"`
	FailedCount           int    `json:"failed_count"`
	RemainingQueries      int    `json:"remaining_queries"`
	HeavyRemainingQueries int    `json:"heavy_remaining_queries"`
	Note                  string `json:"note,omitempty"`
	LastFailureStatus     int    `json:"last_failure_status,omitempty"`
	LastFailureReason     string `json:"last_failure_reason,omitempty"`
}

type tokenFile map[TokenType]map[string]*GrokTokenStorage

func emptyTokenFile() tokenFile {
	return tokenFile{TokenNormal: {}, TokenSuper: {}}
}

// TokenStore is the file-backed SSO token pool under the auth directory.
type TokenStore struct {
	mu   sync.Mutex
	path string
	data tokenFile
	next map[TokenType]int
}

// OpenTokenStore loads <authDir>/token.json, creating it with empty pools when missing.
func OpenTokenStore(authDir string) (*TokenStore, error) {
	s := &TokenStore{
		path: filepath.Join(authDir, TokenFileName),
		next: map[TokenType]int{},
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file.
func (s *TokenStore) Path() string { return s.path }

// Reload re-reads the backing file. The lock is held from read to swap so a
// concurrent Mark* save is either seen by the read or applied after the swap.
func (s *TokenStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.data = emptyTokenFile()
		log.Infof("grok auth: creating token file %s", s.path)
		return s.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("grok auth: read token file: %w", err)
	}

	data := emptyTokenFile()
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("grok auth: parse token file %s: %w", s.path, err)
	}
	for typ, pool := range data {
		if pool == nil {
			data[typ] = map[string]*GrokTokenStorage{}
			continue
		}
		for token, entry := range pool {
			if entry == nil {
				entry = &GrokTokenStorage{}
				pool[token] = entry
			}
			entry.SSOToken = token
			if entry.Status == "" {
				entry.Status = StatusActive
			}
		}
	}
	for _, typ := range []TokenType{TokenNormal, TokenSuper} {
		if data[typ] == nil {
			data[typ] = map[string]*GrokTokenStorage{}
		}
	}
	s.data = data
	return nil
}

// Add stores a token in the given pool, replacing any existing entry.
func (s *TokenStore) Add(token string, typ TokenType, note string) error {
	token = NormalizeSSOToken(token)
	if token == "" {
		return fmt.Errorf("grok auth: empty token")
	}
	if typ != TokenSuper {
		typ = TokenNormal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[typ][token] = &GrokTokenStorage{
		SSOToken:              token,
		Status:                StatusActive,
		RemainingQueries:      -1,
		HeavyRemainingQueries: -1,
		Note:                  note,
	}
	log.Infof("grok auth: saving %s token %s to %s", typ, MaskToken(token), s.path)
	return s.saveLocked()
}

// Pick returns a copy of the next active token able to serve model. Heavy
// models draw from the super pool only.
func (s *TokenStore) Pick(model string) (GrokTokenStorage, error) {
	typ := TokenNormal
	if cfg, ok := GetGrokModelConfig(model); ok && cfg.RequiresSuper {
		typ = TokenSuper
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := s.activeLocked(typ)
	if len(candidates) == 0 && typ == TokenNormal {
		typ = TokenSuper
		candidates = s.activeLocked(typ)
	}
	if len(candidates) == 0 {
		return GrokTokenStorage{}, ErrNoSSOToken
	}
	i := s.next[typ] % len(candidates)
	s.next[typ] = i + 1
	return *s.data[typ][candidates[i]], nil
}

func (s *TokenStore) activeLocked(typ TokenType) []string {
	tokens := make([]string, 0, len(s.data[typ]))
	for token, entry := range s.data[typ] {
		if entry.Status != StatusExpired {
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)
	return tokens
}

// MarkFailure records a failed upstream call. An authentication failure
// counts toward expiry; the token is expired after MaxFailures in a row.
func (s *TokenStore) MarkFailure(token string, status int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.findLocked(token)
	if entry == nil {
		return ErrTokenNotFound
	}
	entry.LastFailureStatus = status
	entry.LastFailureReason = reason
	if status == 401 {
		entry.FailedCount++
		if entry.FailedCount >= MaxFailures {
			entry.Status = StatusExpired
			log.Warnf("grok auth: token %s expired after %d failures", MaskToken(token), entry.FailedCount)
		}
	}
	return s.saveLocked()
}

// MarkSuccess clears the failure counter of token.
func (s *TokenStore) MarkSuccess(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.findLocked(token)
	if entry == nil {
		return ErrTokenNotFound
	}
	if entry.FailedCount == 0 && entry.LastFailureStatus == 0 {
		return nil
	}
	entry.FailedCount = 0
	entry.LastFailureStatus = 0
	entry.LastFailureReason = ""
	return s.saveLocked()
}

// UpdateLimits stores the remaining query counters reported by the rate-limit
// check. Failure state is left alone: only MarkFailure and MarkSuccess change it.
func (s *TokenStore) UpdateLimits(updated GrokTokenStorage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.findLocked(updated.SSOToken)
	if entry == nil {
		return ErrTokenNotFound
	}
	entry.RemainingQueries = updated.RemainingQueries
	entry.HeavyRemainingQueries = updated.HeavyRemainingQueries
	return s.saveLocked()
}

// Count reports the number of active tokens per pool.
func (s *TokenStore) Count() (normal, super int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeLocked(TokenNormal)), len(s.activeLocked(TokenSuper))
}

func (s *TokenStore) findLocked(token string) *GrokTokenStorage {
	token = NormalizeSSOToken(token)
	for _, typ := range []TokenType{TokenNormal, TokenSuper} {
		if entry, ok := s.data[typ][token]; ok {
			return entry
		}
	}
	return nil
}

func (s *TokenStore) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create auth directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".token-*.json")
	if err != nil {
		return fmt.Errorf("failed to create auth file: %w", err)
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode grok tokens: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write grok tokens: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}
