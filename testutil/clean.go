package testutil

import (
	"os"
	"path/filepath"
)

// CleanDir removes everything in dirname except the entries named in keeps; dirname is
// created if it does not exist.
func CleanDir(dirname string, keeps []string) error {
	ents, err := os.ReadDir(dirname)
	if os.IsNotExist(err) {
		return os.MkdirAll(dirname, 0755)
	} else if err != nil {
		return err
	}

	m := map[string]struct{}{}
	for _, k := range keeps {
		m[k] = struct{}{}
	}

	for _, ent := range ents {
		if _, found := m[ent.Name()]; found {
			continue
		}
		err = os.RemoveAll(filepath.Join(dirname, ent.Name()))
		if err != nil {
			return err
		}
	}
	return nil
}
