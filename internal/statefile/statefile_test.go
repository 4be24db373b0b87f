package statefile

import (
	"os"
	"path/filepath"
	"testing"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	want := record{Name: "alpha", Count: 3}
	if err := s.Save("quota", CurrentID, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got record
	ok, err := s.Load("quota", CurrentID, &got)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load reported absent after Save")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestLoadMissingReportsAbsent(t *testing.T) {
	s := NewStore(t.TempDir())

	var got record
	ok, err := s.Load("quota", "nope", &got)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("missing file reported present")
	}
}

func TestLoadCorruptReportsAbsent(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	path := filepath.Join(dir, "quota-current.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	var got record
	ok, err := s.Load("quota", CurrentID, &got)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("corrupt file reported present")
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	if err := s.Save("context", "abc", record{Name: "b"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "context-abc.json" {
		t.Errorf("unexpected dir contents: %v", entries)
	}
}

func TestRemoveMissingIsNoError(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Remove("quota", "gone"); err != nil {
		t.Errorf("Remove missing: %v", err)
	}
}
