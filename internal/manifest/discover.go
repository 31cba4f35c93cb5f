package manifest

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Extension is the file suffix of assembly manifests.
const Extension = ".hcl"

// Discover recursively searches root for assembly manifest files and returns
// their paths in lexical order. The order is stable but carries no dependency
// meaning; callers order loads by declared dependencies.
func Discover(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), Extension) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
