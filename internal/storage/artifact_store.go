package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ArtifactStore manages the per-job output directories under the download
// root. Each job writes into its own directory, so concurrent jobs never
// contend on a path.
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates the store and ensures the root directory exists.
func NewArtifactStore(root string) (*ArtifactStore, error) {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create download root: %w", err)
	}
	return &ArtifactStore{root: root}, nil
}

// Root returns the download root directory.
func (s *ArtifactStore) Root() string {
	return s.root
}

// JobDir returns the directory path scoped to the given job.
func (s *ArtifactStore) JobDir(id uuid.UUID) string {
	return filepath.Join(s.root, id.String())
}

// CreateJobDir creates and returns the job's directory.
func (s *ArtifactStore) CreateJobDir(id uuid.UUID) (string, error) {
	dir := s.JobDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job directory: %w", err)
	}
	return dir, nil
}

// RemoveJobDir deletes the job's directory and everything in it.
// Removing a directory that never existed is not an error.
func (s *ArtifactStore) RemoveJobDir(id uuid.UUID) error {
	if err := os.RemoveAll(s.JobDir(id)); err != nil {
		return fmt.Errorf("remove job directory: %w", err)
	}
	return nil
}

// ArtifactSize returns the size in bytes of a produced file.
func (s *ArtifactStore) ArtifactSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
