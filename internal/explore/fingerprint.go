package explore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint content-addresses a serialized interpreter state.
type Fingerprint [sha256.Size]byte

// FingerprintOf hashes a serialized state. Equal content always yields the
// same fingerprint.
func FingerprintOf(state []byte) Fingerprint {
	return Fingerprint(sha256.Sum256(state))
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short is the first 12 hex characters, for logs.
func (f Fingerprint) Short() string {
	return f.String()[:12]
}

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(b []byte) error {
	parsed, err := ParseFingerprint(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFingerprint reverses Fingerprint.String.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	raw, err := hex.DecodeString(s)
	if err != nil {
		return f, fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	if len(raw) != len(f) {
		return f, fmt.Errorf("invalid fingerprint %q: want %d bytes, got %d", s, len(f), len(raw))
	}
	copy(f[:], raw)
	return f, nil
}
