package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherGrewOnAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write initial file: %v", err)
	}

	w, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString("y"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Sync()

	select {
	case ev := <-w.Events():
		if ev != Grew {
			t.Fatalf("expected Grew, got %v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Grew event")
	}
}

func TestWatcherGoneOnRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write initial file: %v", err)
	}

	w, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// Unlinking also changes the file's link count, which surfaces as a
	// Chmod and so as a Grew that may arrive ahead of Gone.
	timeout := time.After(5 * time.Second)
	for gotGone := false; !gotGone; {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				t.Fatal("events channel closed before Gone")
			}
			if ev == Grew {
				continue
			}
			if ev != Gone {
				t.Fatalf("expected Gone, got %v", ev)
			}
			gotGone = true
		case <-timeout:
			t.Fatal("timed out waiting for Gone event")
		}
	}

	if _, ok := <-w.Events(); ok {
		t.Fatal("expected events channel to be closed after Gone")
	}
}
