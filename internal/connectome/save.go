package connectome

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/connectome/internal/archive"
)

// SaveOptions controls Save.
type SaveOptions struct {
	// RemoveDir deletes the written directory once the archive exists.
	RemoveDir bool
}

// Save writes weights.txt, tract_lengths.txt and centres.txt into dir and
// packs dir into <dir>.zip. The writes are not atomic: an interrupted Save
// can leave a partial directory and no archive.
func (c *Connectome) Save(dir string, opts SaveOptions) (*archive.Info, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &IOError{Op: "save", Path: dir, Err: err}
	}

	weightsPath := filepath.Join(dir, WeightsFile)
	if err := writeMatrix(weightsPath, c.weights); err != nil {
		return nil, &IOError{Op: "save", Path: weightsPath, Err: err}
	}
	tractsPath := filepath.Join(dir, TractLengthsFile)
	if err := writeMatrix(tractsPath, c.tracts); err != nil {
		return nil, &IOError{Op: "save", Path: tractsPath, Err: err}
	}
	centresPath := filepath.Join(dir, CentresFile)
	if err := writeCentres(centresPath, c.regions); err != nil {
		return nil, &IOError{Op: "save", Path: centresPath, Err: err}
	}

	zipPath := archive.ArchivePath(dir)
	info, err := archive.ZipDir(dir, zipPath)
	if err != nil {
		return nil, &IOError{Op: "archive", Path: zipPath, Err: err}
	}

	if opts.RemoveDir {
		cleaned := filepath.Clean(dir)
		if cleaned == filepath.Dir(cleaned) || cleaned == "." {
			return info, &IOError{Op: "cleanup", Path: dir, Err: fmt.Errorf("refusing to remove %q", cleaned)}
		}
		if err := os.RemoveAll(dir); err != nil {
			return info, &IOError{Op: "cleanup", Path: dir, Err: fmt.Errorf("removing directory: %w", err)}
		}
	}
	return info, nil
}
