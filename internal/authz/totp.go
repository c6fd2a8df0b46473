package authz

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	totpStep   = 30 * time.Second
	totpDigits = 6
	// One step of tolerance either side absorbs client clock drift.
	totpWindow = 1

	secretBytes = 20
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// newTOTPSecret returns a fresh base32-encoded shared secret.
func newTOTPSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate mfa secret: %w", err)
	}
	return b32.EncodeToString(buf), nil
}

// totpCode computes the RFC 6238 code for the step containing t.
func totpCode(secret string, t time.Time) (string, error) {
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return "", err
	}
	counter := uint64(t.Unix() / int64(totpStep.Seconds()))
	return hotp(key, counter), nil
}

// totpVerify checks code against the current step and its neighbours.
// Comparison is constant-time per candidate.
func totpVerify(secret, code string, t time.Time) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits {
		return false, nil
	}
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return false, err
	}
	counter := t.Unix() / int64(totpStep.Seconds())
	for offset := int64(-totpWindow); offset <= totpWindow; offset++ {
		candidate := hotp(key, uint64(counter+offset))
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// hotp is RFC 4226 dynamic truncation over HMAC-SHA1.
func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)
	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", code%1_000_000)
}

func decodeTOTPSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	key, err := b32.DecodeString(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed mfa secret", ErrInvalidInput)
	}
	return key, nil
}
