package challenge

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bookrelay/bookrelay/internal/common/uuid"
)

const artifactExt = ".png"

// ArtifactStore keeps one challenge image per session under a single directory.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates dir if needed and returns a store rooted at it.
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if dir == "" {
		return nil, ErrArtifactIO.Msg("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, ErrArtifactIO.Err(err)
	}
	return &ArtifactStore{dir: dir}, nil
}

// Dir returns the root directory.
func (s *ArtifactStore) Dir() string {
	return s.dir
}

// Path returns the artifact location for sessionID.
func (s *ArtifactStore) Path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+artifactExt)
}

// Save writes data for sessionID atomically and returns its path.
func (s *ArtifactStore) Save(sessionID string, data []byte) (string, error) {
	if !uuid.IsValid(sessionID) {
		return "", ErrArtifactIO.Msg("invalid session id")
	}
	tmp, err := os.CreateTemp(s.dir, "."+sessionID+"-*")
	if err != nil {
		return "", ErrArtifactIO.Err(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", ErrArtifactIO.Err(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", ErrArtifactIO.Err(err)
	}
	path := s.Path(sessionID)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", ErrArtifactIO.Err(err)
	}
	return path, nil
}

// Load returns the artifact for sessionID or ErrArtifactNotFound.
func (s *ArtifactStore) Load(sessionID string) ([]byte, error) {
	if !uuid.IsValid(sessionID) {
		return nil, ErrArtifactNotFound
	}
	data, err := os.ReadFile(s.Path(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrArtifactNotFound
		}
		return nil, ErrArtifactIO.Err(err)
	}
	return data, nil
}

// Remove deletes the artifact for sessionID. Removing a missing artifact is not an error.
func (s *ArtifactStore) Remove(sessionID string) error {
	if !uuid.IsValid(sessionID) {
		return nil
	}
	if err := os.Remove(s.Path(sessionID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ErrArtifactIO.Err(err)
	}
	return nil
}

// Purge removes every artifact in the directory, such as those left behind by a
// previous process, and returns how many were deleted.
func (s *ArtifactStore) Purge() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, ErrArtifactIO.Err(err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), artifactExt) {
			continue
		}
		if !uuid.IsValid(strings.TrimSuffix(e.Name(), artifactExt)) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			n++
		}
	}
	return n, nil
}
