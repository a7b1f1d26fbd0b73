package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/otaviosnow/clipeiroai-sub000/internal/db"
	"github.com/otaviosnow/clipeiroai-sub000/internal/db/models"
	"gorm.io/gorm"
)

// GormRecorder writes each result to the task_logs table.
type GormRecorder struct {
	db *gorm.DB
}

func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db}
}

func (g *GormRecorder) Record(ctx context.Context, r Result) error {
	errs := ""
	if len(r.Errors) > 0 {
		b, _ := json.Marshal(r.Errors)
		errs = string(b)
	}
	started := r.StartedAt
	if started.IsZero() {
		started = r.QueuedAt
	}
	return db.InsertTaskLog(g.db.WithContext(ctx), &models.TaskLog{
		ID:           r.TaskID,
		Timestamp:    r.FinishedAt.UnixMilli(),
		Kind:         string(r.Kind),
		Platform:     string(r.Platform),
		AccountKey:   r.AccountKey,
		State:        string(r.State),
		Success:      r.Success,
		Attempts:     r.Attempts,
		Duration:     r.FinishedAt.Sub(started).Milliseconds(),
		PublishedURL: r.PublishedURL,
		Errors:       errs,
	})
}
