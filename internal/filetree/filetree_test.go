package filetree

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookupAndRegister(t *testing.T) {
	t.Parallel()

	tree := NewDirTree(t.TempDir())
	if _, ok := tree.Lookup("/missing.gcode"); ok {
		t.Error("Lookup of an unknown path must miss")
	}

	tree.Register("/model.gcode", 42)
	node, ok := tree.Lookup("/model.gcode")
	if !ok {
		t.Fatal("Registered path not found")
	}
	if node.Path != "/model.gcode" || node.Size != 42 {
		t.Errorf("Unexpected node %+v", node)
	}

	// Paths normalize, so lookups with or without the leading slash match.
	if _, ok := tree.Lookup("model.gcode"); !ok {
		t.Error("Lookup should normalize relative paths")
	}
}

func TestRegisterReadsDiskSize(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	tree := NewDirTree(root)
	if err := os.WriteFile(filepath.Join(root, "real.gcode"), []byte("G28\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tree.Register("/real.gcode", 0)
	node, _ := tree.Lookup("/real.gcode")
	if node.Size != 4 {
		t.Errorf("Size from disk = %d, want 4", node.Size)
	}
	if node.MTime == 0 {
		t.Error("MTime should come from disk")
	}
}

func TestOSPathStaysUnderRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	tree := NewDirTree(root)

	got, err := tree.OSPath("/sub/file.gcode")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(root, "sub", "file.gcode") {
		t.Errorf("OSPath = %q", got)
	}

	// Traversal collapses inside the virtual root instead of escaping.
	got, err = tree.OSPath("/../../etc/passwd")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(root, "etc", "passwd") {
		t.Errorf("Traversal escaped the root: %q", got)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	tree := NewDirTree(t.TempDir())
	tree.Register("/a.gcode", 1)
	tree.Register("/b.gcode", 2)

	summary := tree.Summary()
	if summary["dir"] != true {
		t.Error("Root summary must be a directory")
	}
	children, ok := summary["children"].([]any)
	if !ok || len(children) != 2 {
		t.Fatalf("Expected 2 children, got %#v", summary["children"])
	}
}
