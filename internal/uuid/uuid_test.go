package uuid

import (
	"testing"

	guuid "github.com/google/uuid"
)

func TestNew(t *testing.T) {
	id1 := New()
	id2 := New()

	if len(id1) == 0 {
		t.Error("UUID should not be empty")
	}

	if id1 == id2 {
		t.Error("UUIDs should be unique")
	}

	parsed, err := guuid.Parse(id1)
	if err != nil {
		t.Fatalf("New returned an invalid UUID %q: %v", id1, err)
	}
	if parsed.Version() != 4 {
		t.Errorf("expected a version 4 UUID, got version %d", parsed.Version())
	}
}
