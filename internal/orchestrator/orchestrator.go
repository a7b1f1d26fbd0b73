// Package orchestrator runs connect and publish tasks against platform
// drivers. It serializes work per account, caps concurrency across
// accounts, paces each account between tasks, restores and saves sessions
// around every task and retries only the bounded-wait timeout classes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/otaviosnow/clipeiroai-sub000/internal/driver"
	"github.com/otaviosnow/clipeiroai-sub000/internal/logging"
	"github.com/otaviosnow/clipeiroai-sub000/internal/pacing"
	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"github.com/otaviosnow/clipeiroai-sub000/internal/session"
	"github.com/otaviosnow/clipeiroai-sub000/internal/totp"
)

// Config tunes concurrency, retry and pacing.
type Config struct {
	Concurrency   int           `yaml:"concurrency"`
	RetryAttempts uint          `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	ConnectPacing pacing.Window `yaml:"connect_pacing"`
	PublishPacing pacing.Window `yaml:"publish_pacing"`
}

// DefaultConfig mirrors a human publishing cadence rather than throughput.
func DefaultConfig() Config {
	return Config{
		Concurrency:   2,
		RetryAttempts: 3,
		RetryDelay:    2 * time.Second,
		ConnectPacing: pacing.Window{Min: 5 * time.Second, Max: 15 * time.Second},
		PublishPacing: pacing.Window{Min: 2 * time.Minute, Max: 5 * time.Minute},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	return c
}

// Recorder receives every finished result, e.g. to persist an audit log.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}

// Orchestrator dispatches tasks to drivers.
type Orchestrator struct {
	cfg      Config
	drivers  map[platform.Platform]driver.Driver
	store    session.Store
	codes    *totp.Resolver
	pacer    *pacing.Pacer
	recorder Recorder

	slots chan struct{}

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder attaches a result recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTOTP replaces the default local TOTP resolver.
func WithTOTP(r *totp.Resolver) Option {
	return func(o *Orchestrator) { o.codes = r }
}

// WithPacer replaces the pacer, mainly so tests can share or inspect one.
func WithPacer(p *pacing.Pacer) Option {
	return func(o *Orchestrator) { o.pacer = p }
}

// New creates an orchestrator over the given drivers and session store.
func New(cfg Config, store session.Store, drivers []driver.Driver, opts ...Option) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:     cfg,
		drivers: make(map[platform.Platform]driver.Driver, len(drivers)),
		store:   store,
		codes:   totp.NewResolver(),
		pacer:   pacing.NewPacer(),
		slots:   make(chan struct{}, cfg.Concurrency),
		locks:   make(map[string]chan struct{}),
	}
	for _, d := range drivers {
		o.drivers[d.Platform()] = d
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one task and always returns exactly one result.
func (o *Orchestrator) Run(ctx context.Context, task Task) Result {
	if task.ID == "" {
		task.ID = logging.GenerateTaskID()
	}
	ctx = logging.WithTaskID(ctx, task.ID)
	if !task.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, task.Deadline)
		defer cancel()
	}

	rb := newResultBuilder(task)
	res := o.run(ctx, task, rb)

	if o.recorder != nil {
		if err := o.recorder.Record(context.WithoutCancel(ctx), res); err != nil {
			log.Printf("%s⚠️ Failed to record result: %v", logging.Prefix(ctx), err)
		}
	}
	return res
}

func (o *Orchestrator) run(ctx context.Context, task Task, rb *resultBuilder) Result {
	drv, ok := o.drivers[task.Account.Platform]
	if !ok {
		return rb.fail(platform.Errorf(platform.KindFailed, "orchestrator", "no driver for platform %q", task.Account.Platform))
	}
	if task.Kind != KindConnect && task.Kind != KindPublish {
		return rb.fail(platform.Errorf(platform.KindFailed, "orchestrator", "unsupported task kind %q", task.Kind))
	}

	key := task.Account.Key()
	release, err := o.acquire(ctx, key)
	if err != nil {
		return rb.cancel(err)
	}
	defer release()

	if err := o.pacer.Wait(ctx, key); err != nil {
		return rb.cancel(err)
	}

	select {
	case o.slots <- struct{}{}:
	case <-ctx.Done():
		return rb.cancel(ctx.Err())
	}
	defer func() { <-o.slots }()

	rb.started()
	log.Printf("%s▶️ %s %s", logging.Prefix(ctx), task.Kind, key)
	res := o.execute(ctx, drv, task, rb)
	log.Printf("%s%s %s %s: %s", logging.Prefix(ctx), stateIcon(res.State), task.Kind, key, res.State)

	// The cooldown applies whatever the outcome, so repeated failures are
	// paced like successes.
	o.pacer.Cooldown(key, o.window(task.Kind))
	return res
}

func (o *Orchestrator) execute(ctx context.Context, drv driver.Driver, task Task, rb *resultBuilder) Result {
	target := session.NewTarget(task.Account)
	key := task.Account.Key()

	artifact, err := o.store.Load(ctx, key)
	switch {
	case err == nil:
		if err := session.RestoreInto(target, artifact); err != nil {
			return rb.fail(err)
		}
	case errors.Is(err, session.ErrNotFound):
	case ctx.Err() != nil:
		return rb.cancel(ctx.Err())
	default:
		rb.note(fmt.Errorf("session restore skipped: %w", err))
	}
	rb.transition(StateSessionRestoreAttempted)

	if task.Kind == KindConnect {
		if err := o.preflightTwoFactor(ctx, task.Account); err != nil {
			return rb.fail(err)
		}
	}
	rb.transition(StateDriverInvoked)

	refreshed := false
	if task.Account.AuthCode != "" || !drv.IsAuthenticated(ctx, target) {
		err := o.invoke(ctx, rb, "login", func(ctx context.Context) error {
			a, err := drv.Login(ctx, target, task.Account)
			if err != nil {
				return err
			}
			return target.Apply(a)
		})
		if err != nil {
			return o.finishErr(ctx, rb, err)
		}
		refreshed = true
	}

	if task.Kind == KindPublish {
		err := o.invoke(ctx, rb, "publish", func(ctx context.Context) error {
			outcome, err := drv.Publish(ctx, target, task.Content)
			rb.setPublish(outcome)
			return err
		})
		if err != nil {
			// A refreshed token is still worth keeping when publishing fails.
			if refreshed {
				o.saveBestEffort(ctx, key, targetArtifact(target))
			}
			return o.finishErr(ctx, rb, err)
		}
	}

	produced := targetArtifact(target)
	if produced.Token != nil {
		if err := o.store.Save(context.WithoutCancel(ctx), key, produced); err != nil {
			return rb.fail(fmt.Errorf("save session: %w", err))
		}
	}
	return rb.succeed(produced)
}

// invoke runs a driver step with bounded retry for the timeout classes and
// turns panics into failures so one broken flow cannot take down the
// process.
func (o *Orchestrator) invoke(ctx context.Context, rb *resultBuilder, step string, fn func(ctx context.Context) error) error {
	attempts := o.cfg.RetryAttempts
	return retry.Do(
		func() (err error) {
			rb.attempt()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("%s💥 %s panicked: %v\n%s", logging.Prefix(ctx), step, r, debug.Stack())
					err = platform.Errorf(platform.KindFailed, step, "driver panic: %v", r)
				}
			}()
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(o.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && platform.IsRetryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			if n+1 >= attempts {
				return
			}
			rb.note(err)
			log.Printf("%s🔁 %s attempt %d/%d failed, retrying: %v", logging.Prefix(ctx), step, n+1, attempts, err)
		}),
	)
}

func (o *Orchestrator) finishErr(ctx context.Context, rb *resultBuilder, err error) Result {
	if ctx.Err() != nil || platform.KindOf(err) == platform.KindCancelled {
		return rb.cancel(err)
	}
	return rb.fail(err)
}

func (o *Orchestrator) preflightTwoFactor(ctx context.Context, account platform.Account) error {
	if account.TOTPSecret == "" {
		if account.RequiresTwoFactor {
			return platform.Errorf(platform.KindTwoFactorNoSecret, "connect", "%s requires two-factor but no secret is configured", account.Key())
		}
		return nil
	}
	if _, err := o.codes.GetCode(ctx, account.TOTPSecret); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) saveBestEffort(ctx context.Context, key string, a session.Artifact) {
	if err := o.store.Save(context.WithoutCancel(ctx), key, a); err != nil {
		log.Printf("%s⚠️ Failed to save refreshed session for %s: %v", logging.Prefix(ctx), key, err)
	}
}

// acquire takes the exclusive lock for key, honouring ctx.
func (o *Orchestrator) acquire(ctx context.Context, key string) (func(), error) {
	o.mu.Lock()
	lock, ok := o.locks[key]
	if !ok {
		lock = make(chan struct{}, 1)
		o.locks[key] = lock
	}
	o.mu.Unlock()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) window(kind Kind) pacing.Window {
	if kind == KindPublish {
		return o.cfg.PublishPacing
	}
	return o.cfg.ConnectPacing
}

func targetArtifact(t *session.Target) session.Artifact {
	return session.Artifact{
		AccountKey: t.AccountKey,
		Platform:   t.Platform,
		Token:      t.Token,
		Extras:     t.Extras,
		CapturedAt: time.Now(),
	}.Clone()
}

func stateIcon(s State) string {
	switch s {
	case StateSucceeded:
		return "✅"
	case StateCancelled:
		return "⏹️"
	}
	return "❌"
}
