// Package totp produces RFC 6238 time-based one-time codes for accounts that
// have two-factor authentication enabled.
package totp

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	Period = 30
	Digits = 6
)

// Remote is an optional code source consulted before the local computation.
type Remote interface {
	Code(ctx context.Context, secret string) (string, error)
}

// Resolver turns a shared secret into the current code. It holds no state
// between calls; every code is recomputed from the clock.
type Resolver struct {
	Remote Remote
	Now    func() time.Time
}

// NewResolver returns a local-only resolver.
func NewResolver() *Resolver {
	return &Resolver{Now: time.Now}
}

// GetCode returns the 6-digit code for secret at the current time.
func (r *Resolver) GetCode(ctx context.Context, secret string) (string, error) {
	normalized, err := Normalize(secret)
	if err != nil {
		return "", err
	}

	if r.Remote != nil {
		code, err := r.Remote.Code(ctx, normalized)
		if err == nil && isCode(code) {
			return code, nil
		}
		log.Printf("⚠️ [totp] remote code source unavailable, using local fallback: %v", err)
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return CodeAt(normalized, now())
}

// CodeAt computes the code for secret at t using SHA1, a 30 second step and
// 6 digits.
func CodeAt(secret string, t time.Time) (string, error) {
	normalized, err := Normalize(secret)
	if err != nil {
		return "", err
	}
	code, err := totp.GenerateCodeCustom(normalized, t, totp.ValidateOpts{
		Period:    Period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		if errors.Is(err, otp.ErrValidateSecretInvalidBase32) {
			return "", platform.NewError(platform.KindInvalidSecret, "totp", err)
		}
		return "", fmt.Errorf("totp: %w", err)
	}
	return code, nil
}

// Normalize strips whitespace and dashes, upper-cases and pads the secret,
// and verifies it decodes as base32.
func Normalize(secret string) (string, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			return -1
		}
		return r
	}, secret)
	s = strings.ToUpper(strings.TrimRight(s, "="))
	if s == "" {
		return "", platform.Errorf(platform.KindInvalidSecret, "totp", "empty secret")
	}
	if n := len(s) % 8; n != 0 {
		s += strings.Repeat("=", 8-n)
	}
	if key, err := base32.StdEncoding.DecodeString(s); err != nil || len(key) == 0 {
		return "", platform.Errorf(platform.KindInvalidSecret, "totp", "secret is not valid base32")
	}
	return s, nil
}

// Validate checks a secret without producing a code.
func Validate(secret string) error {
	_, err := Normalize(secret)
	return err
}

func isCode(s string) bool {
	if len(s) != Digits {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
