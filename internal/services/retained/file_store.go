package retained

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileStore keeps the image in a single file replaced atomically on every save.
type FileStore struct {
	path     string
	capacity int
	logger   *zap.SugaredLogger
}

func NewFileStore(path string, capacity int, logger *zap.SugaredLogger) *FileStore {
	if logger == nil {
		logger = zap.S()
	}
	return &FileStore{path: path, capacity: capacity, logger: logger}
}

func (s *FileStore) Load() (*Retained, bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("read retained image: %w", err)
	}
	if err == nil {
		r, derr := decode(raw)
		switch {
		case derr != nil:
			s.logger.Warnf("Retained image %s invalid, cold boot: %v", s.path, derr)
		case r.Table.Cap() != s.capacity:
			s.logger.Warnf("Retained image built for %d boards, configured %d, cold boot", r.Table.Cap(), s.capacity)
		default:
			return r, false, nil
		}
	}

	r, err := Defaults(s.capacity)
	if err != nil {
		return nil, true, err
	}
	return r, true, nil
}

func (s *FileStore) Save(r *Retained) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("retained dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("retained temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encode(r)); err != nil {
		tmp.Close()
		return fmt.Errorf("write retained image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync retained image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
