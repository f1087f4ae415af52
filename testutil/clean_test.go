package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestCleanDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "clean")
	err := CleanDir(dir, nil)
	if err != nil {
		t.Fatalf("CleanDir(%s) failed with %s", dir, err)
	}

	for _, name := range []string{".gitignore", "mvdb.db", "mvdb.log"} {
		err = os.WriteFile(filepath.Join(dir, name), []byte(name), 0644)
		if err != nil {
			t.Fatalf("WriteFile(%s) failed with %s", name, err)
		}
	}
	err = os.MkdirAll(filepath.Join(dir, "tm", "sub"), 0755)
	if err != nil {
		t.Fatalf("MkdirAll() failed with %s", err)
	}

	err = CleanDir(dir, []string{".gitignore"})
	if err != nil {
		t.Fatalf("CleanDir(%s) failed with %s", dir, err)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s) failed with %s", dir, err)
	}
	var names []string
	for _, ent := range ents {
		names = append(names, ent.Name())
	}
	sort.Strings(names)
	if len(names) != 1 || names[0] != ".gitignore" {
		t.Errorf("CleanDir(%s) left %v want [.gitignore]", dir, names)
	}
}
