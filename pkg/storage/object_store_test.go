package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDirStoreListOpenPut(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"math/7/algebra.pdf", "math/8/geometry.txt", "physics/9/mechanics.html"} {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(rel), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	store, err := NewDirStore(root)
	if err != nil {
		t.Fatalf("new dir store: %v", err)
	}
	ctx := context.Background()

	keys, err := store.List(ctx, "math/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Join(keys, ",") != "math/7/algebra.pdf,math/8/geometry.txt" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	rc, err := store.Open(ctx, "physics/9/mechanics.html")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "physics/9/mechanics.html" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := store.Put(ctx, "out/batch.json", strings.NewReader(`{"items":[]}`), -1, "application/json"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "out", "batch.json")); err != nil {
		t.Fatalf("expected artifact on disk: %v", err)
	}
}

func TestDirStoreKeysCannotEscapeRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewDirStore(root)
	if err != nil {
		t.Fatalf("new dir store: %v", err)
	}
	if err := store.Put(context.Background(), "../../escape.txt", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.txt")); err != nil {
		t.Fatalf("expected key to be confined to root: %v", err)
	}
	if _, err := NewDirStore(filepath.Join(root, "missing")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
