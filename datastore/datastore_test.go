package datastore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetGet_RoundTrip(t *testing.T) {
	s := New(t.TempDir())
	c := s.Collection("settings")

	if err := c.Set("appID", "abc123"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := c.Set("launches", 3); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, ok := c.GetString("appID")
	if !ok || got != "abc123" {
		t.Errorf("GetString(appID) = %q/%v, want abc123/true", got, ok)
	}
	// JSON round-trip turns numbers into float64.
	v, ok := c.Get("launches")
	if !ok || v.(float64) != 3 {
		t.Errorf("Get(launches) = %v/%v, want 3/true", v, ok)
	}
}

func TestGet_MissingKey(t *testing.T) {
	s := New(t.TempDir())
	c := s.Collection("empty")
	if _, ok := c.Get("nope"); ok {
		t.Error("Get on empty collection returned ok")
	}
}

func TestPersistsAcrossHandles(t *testing.T) {
	base := t.TempDir()
	New(base).Collection("shared").Set("k", "v")

	got, ok := New(base).Collection("shared").GetString("k")
	if !ok || got != "v" {
		t.Errorf("reloaded value = %q/%v, want v/true", got, ok)
	}
}

func TestCollections_Isolated(t *testing.T) {
	s := New(t.TempDir())
	s.Collection("a").Set("k", "in-a")
	s.Collection("b").Set("k", "in-b")

	if got, _ := s.Collection("a").GetString("k"); got != "in-a" {
		t.Errorf("collection a sees %q", got)
	}
	if got, _ := s.Collection("b").GetString("k"); got != "in-b" {
		t.Errorf("collection b sees %q", got)
	}
}

func TestCorruptFile_ReadsEmpty(t *testing.T) {
	base := t.TempDir()
	s := New(base)
	c := s.Collection("corrupt")
	c.Set("k", "v")

	path := filepath.Join(base, "com.adobe.aep.datastore", "corrupt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupting file: %v", err)
	}

	if _, ok := c.Get("k"); ok {
		t.Error("Get on corrupt file returned a value, want miss")
	}
	// Writes recover the collection.
	if err := c.Set("k2", "v2"); err != nil {
		t.Fatalf("Set after corruption error: %v", err)
	}
	if got, _ := c.GetString("k2"); got != "v2" {
		t.Errorf("value after recovery = %q, want v2", got)
	}
}

func TestRemove(t *testing.T) {
	s := New(t.TempDir())
	c := s.Collection("rm")
	c.Set("k", "v")

	if err := c.Remove("k"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("key survived Remove")
	}
	// Removing a missing key is a no-op.
	if err := c.Remove("k"); err != nil {
		t.Errorf("Remove of missing key error: %v", err)
	}
}

func TestRemoveAll(t *testing.T) {
	base := t.TempDir()
	s := New(base)
	c := s.Collection("gone")
	c.Set("k", "v")

	if err := c.RemoveAll(); err != nil {
		t.Fatalf("RemoveAll error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "com.adobe.aep.datastore", "gone.json")); !os.IsNotExist(err) {
		t.Error("collection file survived RemoveAll")
	}
	if err := c.RemoveAll(); err != nil {
		t.Errorf("second RemoveAll error: %v", err)
	}
}
