package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// listImages returns the images of a directory in name order. A file path
// is returned as is, whatever its extension.
func listImages(path string) ([]string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if !entry.IsDir() && IsImage(entry.Name()) {
			paths = append(paths, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// readImages loads the raw payloads without decoding them.
func readImages(paths []string) ([]File, error) {
	files := make([]File, 0, len(paths))
	for _, p := range paths {
		f, err := ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		files = append(files, f)
	}
	return files, nil
}
