package orchestrator

import (
	"strings"
	"sync"
	"time"

	"github.com/otaviosnow/clipeiroai-sub000/internal/driver"
	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
	"github.com/otaviosnow/clipeiroai-sub000/internal/session"
	"github.com/otaviosnow/clipeiroai-sub000/internal/util"
)

// State is a task's position in its lifecycle.
type State string

const (
	StateQueued                  State = "Queued"
	StateSessionRestoreAttempted State = "SessionRestoreAttempted"
	StateDriverInvoked           State = "DriverInvoked"
	StateSucceeded               State = "Succeeded"
	StateFailed                  State = "Failed"
	StateCancelled               State = "Cancelled"
)

// Result is the immutable outcome of one task.
type Result struct {
	TaskID     string            `yaml:"task_id"`
	Kind       Kind              `yaml:"kind"`
	AccountKey string            `yaml:"account"`
	Platform   platform.Platform `yaml:"platform"`

	Success      bool              `yaml:"success"`
	State        State             `yaml:"state"`
	History      []State           `yaml:"history"`
	ErrorKind    platform.Kind     `yaml:"error_kind,omitempty"`
	Errors       []string          `yaml:"errors,omitempty"`
	Diagnostics  string            `yaml:"diagnostics,omitempty"`
	Attempts     int               `yaml:"attempts"`
	PublishState driver.State      `yaml:"publish_state,omitempty"`
	ContentID    string            `yaml:"content_id,omitempty"`
	PublishedURL string            `yaml:"published_url,omitempty"`
	Artifact     *session.Artifact `yaml:"-"`

	QueuedAt   time.Time `yaml:"queued_at"`
	StartedAt  time.Time `yaml:"started_at,omitempty"`
	FinishedAt time.Time `yaml:"finished_at"`
}

// Cancelled reports whether the task ended because its context did.
func (r Result) Cancelled() bool { return r.State == StateCancelled }

// resultBuilder accumulates state while a task runs and produces the final
// Result exactly once.
type resultBuilder struct {
	mu      sync.Mutex
	res     Result
	errs    []error
	secrets []string
	done    bool
}

func newResultBuilder(task Task) *resultBuilder {
	return &resultBuilder{
		res: Result{
			TaskID:     task.ID,
			Kind:       task.Kind,
			AccountKey: task.Account.Key(),
			Platform:   task.Account.Platform,
			State:      StateQueued,
			History:    []State{StateQueued},
			QueuedAt:   time.Now(),
		},
		secrets: []string{task.Account.TOTPSecret, task.Account.AuthCode},
	}
}

func (b *resultBuilder) started() {
	b.mu.Lock()
	b.res.StartedAt = time.Now()
	b.mu.Unlock()
}

func (b *resultBuilder) transition(s State) {
	b.mu.Lock()
	b.res.State = s
	b.res.History = append(b.res.History, s)
	b.mu.Unlock()
}

func (b *resultBuilder) attempt() {
	b.mu.Lock()
	b.res.Attempts++
	b.mu.Unlock()
}

func (b *resultBuilder) note(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	b.errs = append(b.errs, err)
	if d := driver.Diagnostics(err); d != "" {
		b.res.Diagnostics = d
	}
	b.mu.Unlock()
}

func (b *resultBuilder) setPublish(out driver.PublishOutcome) {
	b.mu.Lock()
	b.res.PublishState = out.State
	if out.ContentID != "" {
		b.res.ContentID = out.ContentID
	}
	b.res.PublishedURL = out.URL
	b.mu.Unlock()
}

func (b *resultBuilder) succeed(a session.Artifact) Result {
	b.mu.Lock()
	b.res.Success = true
	b.res.Artifact = &a
	b.mu.Unlock()
	return b.finish(StateSucceeded)
}

func (b *resultBuilder) fail(err error) Result {
	b.note(err)
	b.mu.Lock()
	b.res.ErrorKind = platform.KindOf(err)
	b.mu.Unlock()
	return b.finish(StateFailed)
}

func (b *resultBuilder) cancel(err error) Result {
	b.note(err)
	b.mu.Lock()
	b.res.ErrorKind = platform.KindCancelled
	b.mu.Unlock()
	return b.finish(StateCancelled)
}

func (b *resultBuilder) finish(s State) Result {
	b.transition(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.res.FinishedAt = time.Now()
	b.res.Errors = make([]string, 0, len(b.errs))
	for _, err := range b.errs {
		b.res.Errors = append(b.res.Errors, mask(err.Error(), b.secrets))
	}
	b.res.Diagnostics = mask(b.res.Diagnostics, b.secrets)

	out := b.res
	out.History = append([]State(nil), b.res.History...)
	out.Errors = append([]string(nil), b.res.Errors...)
	return out
}

func mask(msg string, secrets []string) string {
	for _, s := range secrets {
		if s != "" {
			msg = strings.ReplaceAll(msg, s, util.MaskSecret(s))
		}
	}
	return msg
}
