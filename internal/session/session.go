// Package session persists and restores per-account auth state so an
// account that has already been connected can publish without a new login.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"golang.org/x/oauth2"
)

// ErrNotFound is returned by Load when no artifact exists for the key.
var ErrNotFound = errors.New("session not found")

// Artifact is the captured auth state of one account on one platform.
// Drivers return a new Artifact on every successful call instead of
// mutating the one they were given.
type Artifact struct {
	AccountKey string            `yaml:"account_key"`
	Platform   platform.Platform `yaml:"platform"`
	Token      *oauth2.Token     `yaml:"-"`
	Extras     map[string]string `yaml:"extras,omitempty"`
	CapturedAt time.Time         `yaml:"captured_at"`
}

// Extra returns a platform-specific value, or "" when unset.
func (a Artifact) Extra(name string) string {
	return a.Extras[name]
}

// Clone returns a deep copy so callers cannot alias each other's state.
func (a Artifact) Clone() Artifact {
	out := a
	if a.Token != nil {
		tok := *a.Token
		out.Token = &tok
	}
	if a.Extras != nil {
		out.Extras = make(map[string]string, len(a.Extras))
		for k, v := range a.Extras {
			out.Extras[k] = v
		}
	}
	return out
}

// Target is the fresh per-task context a session is restored into.
type Target struct {
	AccountKey string
	Platform   platform.Platform
	Token      *oauth2.Token
	Extras     map[string]string
	Restored   bool
}

// NewTarget creates an empty target for account.
func NewTarget(account platform.Account) *Target {
	return &Target{
		AccountKey: account.Key(),
		Platform:   account.Platform,
		Extras:     map[string]string{},
	}
}

// Apply replaces the target's auth state with a driver-produced artifact.
func (t *Target) Apply(a Artifact) error {
	return RestoreInto(t, a)
}

// Store persists at most one artifact per account key.
type Store interface {
	Save(ctx context.Context, key string, a Artifact) error
	Load(ctx context.Context, key string) (Artifact, error)
}

// RestoreInto copies the artifact's state into target. It refuses artifacts
// captured for a different platform or account.
func RestoreInto(target *Target, a Artifact) error {
	if target == nil {
		return platform.Errorf(platform.KindSessionMismatch, "session.restore", "nil target")
	}
	if a.Platform != target.Platform {
		return platform.Errorf(platform.KindSessionMismatch, "session.restore",
			"artifact for %s cannot be restored into a %s context", a.Platform, target.Platform)
	}
	if a.AccountKey != target.AccountKey {
		return platform.Errorf(platform.KindSessionMismatch, "session.restore",
			"artifact for %s cannot be restored into %s", a.AccountKey, target.AccountKey)
	}
	c := a.Clone()
	target.Token = c.Token
	target.Extras = c.Extras
	if target.Extras == nil {
		target.Extras = map[string]string{}
	}
	target.Restored = true
	return nil
}
