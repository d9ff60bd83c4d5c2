package report

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

var errIsDirectory = errors.New("destination is a directory")

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

type pendingArtifact struct {
	path string
	file *renameio.PendingFile
}

// stage collects artifacts in pending files next to their destinations.
// Nothing appears at a destination path until commit; discard removes every
// pending file that was not committed.
type stage struct {
	pending []pendingArtifact
}

// create opens a pending file that will replace path on commit.
func (s *stage) create(path string) (*renameio.PendingFile, error) {
	f, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithStaticPermissions(0o644),
	)
	if err != nil {
		return nil, &OutputWriteError{Path: path, Op: "create", Err: err}
	}
	s.pending = append(s.pending, pendingArtifact{path: path, file: f})
	return f, nil
}

// write streams encode into a pending file for path.
func (s *stage) write(path string, encode func(w io.Writer) error) error {
	f, err := s.create(path)
	if err != nil {
		return err
	}
	if err = encode(f); err != nil {
		return &OutputWriteError{Path: path, Op: "encode", Err: err}
	}
	return nil
}

// commit renames every pending file into place. Destinations that can never
// be replaced are rejected before the first rename.
func (s *stage) commit() error {
	for _, p := range s.pending {
		if info, err := os.Lstat(p.path); err == nil && info.IsDir() {
			return &OutputWriteError{Path: p.path, Op: "commit", Err: errIsDirectory}
		}
	}
	for _, p := range s.pending {
		if err := p.file.CloseAtomicallyReplace(); err != nil {
			return &OutputWriteError{Path: p.path, Op: "commit", Err: err}
		}
	}
	return nil
}

// discard removes the pending files that were not committed.
func (s *stage) discard() {
	for _, p := range s.pending {
		_ = p.file.Cleanup()
	}
}
