// Package logging carries task ids through contexts so log lines from one
// task can be correlated across drivers and the orchestrator.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

type contextKey string

const taskIDKey contextKey = "taskId"

// GenerateTaskID creates an 8-character hex task ID.
func GenerateTaskID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithTaskID injects a task ID into the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// GetTaskID retrieves the task ID from the context.
// Returns empty string if not found.
func GetTaskID(ctx context.Context) string {
	if id, ok := ctx.Value(taskIDKey).(string); ok {
		return id
	}
	return ""
}

// Prefix renders "[task <id>] " for log lines, or "" without an id.
func Prefix(ctx context.Context) string {
	if id := GetTaskID(ctx); id != "" {
		return fmt.Sprintf("[task %s] ", id)
	}
	return ""
}
