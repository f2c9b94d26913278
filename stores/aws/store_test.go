package aws

import "testing"

func TestBoardKey_RejectsPathLikeProjectIDs(t *testing.T) {
	for _, id := range []string{"", ".", "..", "../evil", "boards/../secret", "a/b"} {
		if _, err := boardKey(id); err == nil {
			t.Errorf("boardKey(%q) should reject path-like project ids", id)
		}
	}
}

func TestBoardKey_BuildsBoardsPrefixedKey(t *testing.T) {
	key, err := boardKey("proj-1")
	if err != nil {
		t.Fatalf("boardKey() failed: %v", err)
	}
	if key != "boards/proj-1.json" {
		t.Errorf("key mismatch: got %q", key)
	}
}
