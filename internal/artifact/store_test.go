package artifact

import (
	"bytes"
	"testing"
	"time"
)

func TestPut_Idempotent(t *testing.T) {
	store := NewStore(t.TempDir())

	first, err := store.Put("payments", 1, "build", "app.jar", []byte("jar bytes"), "application/java-archive", RetentionCompliance)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := store.Put("payments", 1, "build", "app.jar", []byte("jar bytes"), "application/java-archive", RetentionCompliance)
	if err != nil {
		t.Fatalf("put again: %v", err)
	}

	if first.Hash != second.Hash {
		t.Errorf("identical bytes must hash identically: %s vs %s", first.Hash, second.Hash)
	}

	// Both bindings exist even though storage is deduplicated.
	arts, err := store.List("payments", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(arts))
	}
}

func TestGet_Roundtrip(t *testing.T) {
	store := NewStore(t.TempDir())

	content := []byte(`{"bomFormat":"CycloneDX"}`)
	art, err := store.Put("payments", 3, "sbom", "bom.json", content, "application/vnd.cyclonedx+json", RetentionCompliance)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(art.Hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestGet_MalformedHash(t *testing.T) {
	store := NewStore(t.TempDir())

	for _, hash := range []string{"", "abc", "../../etc/passwd"} {
		if _, err := store.Get(hash); err == nil {
			t.Errorf("Get(%q): expected error", hash)
		}
	}
}

func TestList_SeparateRuns(t *testing.T) {
	store := NewStore(t.TempDir())

	if _, err := store.Put("payments", 1, "build", "a", []byte("a"), "text/plain", RetentionEphemeral); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put("billing", 1, "build", "b", []byte("b"), "text/plain", RetentionEphemeral); err != nil {
		t.Fatalf("put: %v", err)
	}

	arts, err := store.List("payments", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(arts) != 1 || arts[0].Name != "a" {
		t.Errorf("run index leaked across pipelines: %+v", arts)
	}
}

func TestReap_RespectsRetention(t *testing.T) {
	store := NewStore(t.TempDir())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	store.SetClock(func() time.Time { return current })

	if _, err := store.Put("payments", 1, "build", "log", []byte("ephemeral"), "text/plain", RetentionEphemeral); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put("payments", 1, "scan", "report", []byte("compliance"), "application/json", RetentionCompliance); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put("payments", 1, "scan", "odd", []byte("unknown class"), "application/json", "mystery"); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Within every minimum period: nothing goes.
	removed, err := store.Reap()
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected 0 removed before retention elapsed, got %d", removed)
	}

	// Two days on: only the ephemeral object is past its floor.
	current = base.Add(48 * time.Hour)
	removed, err = store.Reap()
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	// The compliance object and the unknown-class object (fails closed to
	// compliance) both survive.
	arts, err := store.List("payments", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, art := range arts {
		if art.Retention == RetentionEphemeral {
			continue
		}
		if _, err := store.Get(art.Hash); err != nil {
			t.Errorf("object %s (%s) must survive reaping: %v", art.Name, art.Retention, err)
		}
	}

	// Seven years on: compliance retention has elapsed.
	current = base.Add(7 * 365 * 24 * time.Hour)
	removed, err = store.Reap()
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed after compliance period, got %d", removed)
	}
}

func TestReap_SharedObjectKeepsLongestDeadline(t *testing.T) {
	store := NewStore(t.TempDir())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	store.SetClock(func() time.Time { return current })

	// Same bytes bound once ephemeral, once compliance.
	if _, err := store.Put("payments", 1, "build", "log", []byte("shared"), "text/plain", RetentionEphemeral); err != nil {
		t.Fatalf("put: %v", err)
	}
	art, err := store.Put("payments", 2, "build", "log", []byte("shared"), "text/plain", RetentionCompliance)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	current = base.Add(48 * time.Hour)
	if _, err := store.Reap(); err != nil {
		t.Fatalf("reap: %v", err)
	}

	if _, err := store.Get(art.Hash); err != nil {
		t.Errorf("shared object must honor its longest retention binding: %v", err)
	}
}
