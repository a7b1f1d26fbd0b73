// Package driver defines the contract every platform integration fulfils
// and the bounded state machine their publish flows run through.
package driver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"github.com/otaviosnow/clipeiroai-sub000/internal/session"
)

// Driver encapsulates one platform's login and publish flow.
type Driver interface {
	Platform() platform.Platform

	// IsAuthenticated is a cheap local check used to decide whether login
	// can be skipped.
	IsAuthenticated(ctx context.Context, target *session.Target) bool

	// Login exchanges a fresh authorization code or refreshes the stored
	// token. It returns a new artifact and leaves target untouched.
	Login(ctx context.Context, target *session.Target, account platform.Account) (session.Artifact, error)

	// Publish uploads and publishes content with target's credentials.
	Publish(ctx context.Context, target *session.Target, content platform.Content) (PublishOutcome, error)
}

// PublishOutcome describes how far a publish flow got.
type PublishOutcome struct {
	State       State
	ContentID   string
	URL         string
	Transitions []Transition
}

// Options bounds every wait a driver performs.
type Options struct {
	LoginTimeout   time.Duration `yaml:"login_timeout"`
	UploadTimeout  time.Duration `yaml:"upload_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultOptions returns the timeouts used when none are configured.
func DefaultOptions() Options {
	return Options{
		LoginTimeout:   30 * time.Second,
		UploadTimeout:  10 * time.Minute,
		PublishTimeout: 5 * time.Minute,
		PollInterval:   5 * time.Second,
		RequestTimeout: 2 * time.Minute,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = d.LoginTimeout
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = d.UploadTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = d.PublishTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	return o
}

// NewHTTPClient builds the resty client drivers share. hc may be nil.
func NewHTTPClient(hc *http.Client, opts Options) *resty.Client {
	var c *resty.Client
	if hc != nil {
		c = resty.NewWithClient(hc)
	} else {
		c = resty.New()
	}
	return c.
		SetTimeout(opts.WithDefaults().RequestTimeout).
		SetHeader("User-Agent", "clipeiro-publisher/1.0")
}

// TokenValid reports whether target holds an access token that is good for
// at least another minute. A zero expiry means the token does not expire.
func TokenValid(target *session.Target, now time.Time) bool {
	if target == nil || target.Token == nil || target.Token.AccessToken == "" {
		return false
	}
	return target.Token.Expiry.IsZero() || target.Token.Expiry.After(now.Add(time.Minute))
}
