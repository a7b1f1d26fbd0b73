package logging

import (
	"context"
	"testing"
)

func TestGenerateTaskID(t *testing.T) {
	id := GenerateTaskID()
	if len(id) != 8 {
		t.Errorf("GenerateTaskID() length = %d, want 8", len(id))
	}

	id2 := GenerateTaskID()
	if id == id2 {
		t.Errorf("GenerateTaskID() generated duplicate IDs: %s", id)
	}
}

func TestTaskIDContext(t *testing.T) {
	ctx := context.Background()

	if got := GetTaskID(ctx); got != "" {
		t.Errorf("GetTaskID(empty context) = %q, want empty string", got)
	}
	if got := Prefix(ctx); got != "" {
		t.Errorf("Prefix(empty context) = %q, want empty string", got)
	}

	ctx = WithTaskID(ctx, "test1234")
	if got := GetTaskID(ctx); got != "test1234" {
		t.Errorf("GetTaskID() = %q, want %q", got, "test1234")
	}
	if got := Prefix(ctx); got != "[task test1234] " {
		t.Errorf("Prefix() = %q", got)
	}
}
