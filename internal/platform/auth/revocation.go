package auth

import (
	"sync"
	"time"
)

// revocationEntry stores metadata about a revoked session token.
type revocationEntry struct {
	ExpiresAt time.Time
	UserID    int64
}

// TokenRevocationStore manages revoked session tokens in memory. Revoked
// token JTIs (JWT ID claims) are stored with automatic cleanup of expired
// entries. Thread-safe for concurrent access.
type TokenRevocationStore struct {
	mu       sync.RWMutex
	entries  map[string]revocationEntry // JTI -> entry
	userJTIs map[int64][]string         // userID -> []JTI
	done     chan struct{}
}

// NewTokenRevocationStore creates a new store and starts a background
// goroutine that cleans up expired entries every 5 minutes.
func NewTokenRevocationStore() *TokenRevocationStore {
	s := &TokenRevocationStore{
		entries:  make(map[string]revocationEntry),
		userJTIs: make(map[int64][]string),
		done:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Revoke adds a token's JTI to the revocation list and associates it with a
// user id for bulk revocation. The expiresAt time indicates when the token
// would have naturally expired; the entry is cleaned up after that time since
// there is no need to track a revocation once the token is expired anyway.
func (s *TokenRevocationStore) Revoke(jti string, userID int64, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[jti] = revocationEntry{
		ExpiresAt: expiresAt,
		UserID:    userID,
	}

	if userID > 0 {
		s.userJTIs[userID] = append(s.userJTIs[userID], jti)
	}
}

// IsRevoked checks if a token JTI has been revoked.
func (s *TokenRevocationStore) IsRevoked(jti string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[jti]
	return ok
}

// RevokeAllForUser revokes all known tokens for a user. Returns the number
// of tokens revoked.
func (s *TokenRevocationStore) RevokeAllForUser(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	jtis, ok := s.userJTIs[userID]
	if !ok {
		return 0
	}

	count := 0
	for _, jti := range jtis {
		if _, exists := s.entries[jti]; !exists {
			s.entries[jti] = revocationEntry{
				// Unknown natural expiry at this point; keep for a day.
				ExpiresAt: time.Now().Add(24 * time.Hour),
				UserID:    userID,
			}
		}
		count++
	}
	return count
}

// Close stops the background cleanup goroutine.
func (s *TokenRevocationStore) Close() {
	close(s.done)
}

func (s *TokenRevocationStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

func (s *TokenRevocationStore) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, jti)
		}
	}

	for userID, jtis := range s.userJTIs {
		remaining := jtis[:0]
		for _, jti := range jtis {
			if _, ok := s.entries[jti]; ok {
				remaining = append(remaining, jti)
			}
		}
		if len(remaining) == 0 {
			delete(s.userJTIs, userID)
		} else {
			s.userJTIs[userID] = remaining
		}
	}
}
