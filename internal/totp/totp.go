// internal/totp/totp.go

// Package totp generates RFC 6238 time-based one-time passwords from the
// shared secrets stored with 2FA-protected accounts. Codes are folded into
// decision prompts so the model can complete authenticator challenges.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	// Period is the standard authenticator time step.
	Period = 30 * time.Second
	digits = 6
)

// Code returns the current 6-digit code for a base32 secret. Secrets are
// accepted in the loose form authenticator setup pages display them:
// mixed case, with spaces or hyphens.
func Code(secret string) (string, error) {
	return codeAt(secret, time.Now())
}

// Remaining reports how long the current code stays valid.
func Remaining(now time.Time) time.Duration {
	return Period - time.Duration(now.UnixNano())%Period
}

func codeAt(secret string, now time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}

	counter := uint64(now.Unix()) / uint64(Period/time.Second)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226 §5.3.
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%06d", value%1000000), nil
}

func decodeSecret(secret string) ([]byte, error) {
	cleaned := strings.ToUpper(secret)
	cleaned = strings.NewReplacer(" ", "", "-", "").Replace(cleaned)
	if cleaned == "" {
		return nil, fmt.Errorf("totp: secret is empty")
	}

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(cleaned, "="))
	if err != nil {
		return nil, fmt.Errorf("totp: invalid base32 secret: %w", err)
	}
	return key, nil
}
