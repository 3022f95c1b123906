package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// MaxKeyLength bounds store keys. Canonical keys are a namespace plus a
// fixed-size digest, so only oversized namespaces reach it.
const MaxKeyLength = 512

var (
	ErrInvalidKey = errors.New("cache: invalid key")
	ErrKeyTooLong = errors.New("cache: key too long")
)

// Cache stores serialized tool results and resolved agent configs.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: methods should honor cancellation/deadlines.
//   - Errors: a miss is (nil, false, nil). A non-nil error means the store
//     failed; callers choose whether that counts as a miss.
//   - Set with ttl <= 0 stores nothing. Delete of an absent key succeeds.
//   - Last write wins.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ValidateKey rejects keys that are blank, oversized or contain control
// characters.
func ValidateKey(key string) error {
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLong, len(key))
	}
	if strings.TrimSpace(key) == "" || strings.ContainsFunc(key, unicode.IsControl) {
		return ErrInvalidKey
	}
	return nil
}
