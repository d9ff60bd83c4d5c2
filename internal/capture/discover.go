package capture

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var captureExtensions = map[string]struct{}{
	".txt":   {},
	".csv":   {},
	".dat":   {},
	".log":   {},
	".sweep": {},
}

// IsCaptureFile reports whether name has a recognized capture extension,
// optionally followed by ".gz".
func IsCaptureFile(name string) bool {
	name = strings.ToLower(name)
	name = strings.TrimSuffix(name, ".gz")
	_, ok := captureExtensions[filepath.Ext(name)]
	return ok
}

// Discover lists capture files under root in lexical order. Hidden files and
// directories are ignored; subdirectories are only descended into when
// recursive is set.
func Discover(root string, recursive bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &InputPathError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &InputPathError{Path: root, Err: errNotDirectory}
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !recursive || isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if isHidden(d.Name()) || !d.Type().IsRegular() {
			return nil
		}
		if IsCaptureFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, &InputPathError{Path: root, Err: err}
	}

	slices.Sort(files)
	return files, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
