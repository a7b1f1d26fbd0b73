package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
)

// Kind is the type of work a task performs.
type Kind string

const (
	// KindConnect authenticates an account and stores its session.
	KindConnect Kind = "connect"
	// KindPublish uploads and publishes one clip.
	KindPublish Kind = "publish"
)

// Task is one unit of work for one account.
type Task struct {
	ID       string           `yaml:"id"`
	Kind     Kind             `yaml:"kind"`
	Account  platform.Account `yaml:"account"`
	Content  platform.Content `yaml:"content"`
	Deadline time.Time        `yaml:"deadline"`
}

// Validate checks that the task carries what its kind needs.
func (t Task) Validate() error {
	if t.Account.Platform == "" || t.Account.Username == "" {
		return errors.New("account needs a platform and a username")
	}
	switch t.Kind {
	case KindConnect:
		return nil
	case KindPublish:
		if t.Content.MediaPath == "" && t.Content.MediaURL == "" {
			return errors.New("publish needs media_path or media_url")
		}
		return nil
	default:
		return fmt.Errorf("unsupported task kind %q", t.Kind)
	}
}
