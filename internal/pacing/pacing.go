// Package pacing spaces out work per account so that each account is used
// at a steady, modest rate regardless of how much concurrency the caller
// asks for.
package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Jitter returns a duration sampled uniformly from [min, max].
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// Delay sleeps for Jitter(min, max), returning early with ctx.Err() when the
// context ends first.
func Delay(ctx context.Context, min, max time.Duration) error {
	return Sleep(ctx, Jitter(min, max))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Window is a cooldown range.
type Window struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Pacer remembers, per key, the earliest time the key may be used again.
type Pacer struct {
	mu    sync.Mutex
	next  map[string]time.Time
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewPacer creates an empty Pacer.
func NewPacer() *Pacer {
	return &Pacer{
		next:  make(map[string]time.Time),
		now:   time.Now,
		sleep: Sleep,
	}
}

// Cooldown schedules the next allowed use of key after a jittered window.
func (p *Pacer) Cooldown(key string, w Window) time.Duration {
	d := Jitter(w.Min, w.Max)
	p.mu.Lock()
	p.next[key] = p.now().Add(d)
	p.mu.Unlock()
	return d
}

// Remaining reports how long key must still wait.
func (p *Pacer) Remaining(key string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.next[key]
	if !ok {
		return 0
	}
	if d := until.Sub(p.now()); d > 0 {
		return d
	}
	delete(p.next, key)
	return 0
}

// Wait blocks until key is out of its cooldown.
func (p *Pacer) Wait(ctx context.Context, key string) error {
	return p.sleep(ctx, p.Remaining(key))
}
