// Package secmem holds sensitive strings (visit passwords, tokens) with
// best-effort memory zeroing and logging-safe representations: every
// formatting and marshaling path yields "[REDACTED]"; only Reveal returns
// the plaintext.
package secmem

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const redacted = "[REDACTED]"

// SecureString holds sensitive data with best-effort memory zeroing.
// Go's GC may copy the backing array, so this is defense-in-depth, not a
// guarantee. Call Zero() in shutdown paths to overwrite the value in place.
type SecureString struct {
	mu   sync.Mutex
	data []byte

	// warnedOnce suppresses repeated use-after-zero warnings.
	warnedOnce atomic.Bool
}

// NewSecureString creates a SecureString from the given string.
func NewSecureString(s string) *SecureString {
	b := make([]byte, len(s))
	copy(b, s)
	return &SecureString{data: b}
}

// Reveal returns the plaintext value, "" once zeroed. Revealing a zeroed
// value logs a warning once; it usually means a shutdown ordering bug.
func (s *SecureString) Reveal() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		if s.warnedOnce.CompareAndSwap(false, true) {
			slog.Warn("secure string revealed after zeroing")
		}
		return ""
	}
	return string(s.data)
}

// IsZeroed reports whether Zero has wiped the value.
func (s *SecureString) IsZeroed() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data == nil
}

// Zero overwrites the backing byte slice with zeros.
func (s *SecureString) Zero() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data {
		s.data[i] = 0
	}
	s.data = nil
}

// String returns a redacted representation to prevent accidental logging.
func (s *SecureString) String() string { return redacted }

// GoString returns a redacted representation for %#v.
func (s *SecureString) GoString() string { return redacted }

// Format redacts every fmt verb, including flag variants like %+v.
func (s *SecureString) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, redacted)
}

// MarshalJSON redacts the value in any JSON encoding.
func (s *SecureString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// MarshalText redacts the value in text encodings.
func (s *SecureString) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// UnmarshalJSON always fails: secrets enter through NewSecureString, never
// through deserialization.
func (s *SecureString) UnmarshalJSON([]byte) error {
	return errors.New("secmem: SecureString cannot be unmarshaled")
}
