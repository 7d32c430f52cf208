package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when an artifact does not exist
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidName is returned for names that would escape their namespace
	ErrInvalidName = errors.New("invalid artifact name")
)

// FileStorage keeps artifacts on a filesystem shared with the conversion backend.
// Each job owns one directory, named after its ID.
type FileStorage struct {
	root   string
	logger *slog.Logger
}

// NewFileStorage creates the root directory if needed
func NewFileStorage(root string, logger *slog.Logger) (*FileStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &FileStorage{root: abs, logger: logger}, nil
}

// Root returns the absolute artifact root
func (s *FileStorage) Root() string {
	return s.root
}

// Upload writes r to namespace/name, replacing any existing file
func (s *FileStorage) Upload(ctx context.Context, r io.Reader, name, namespace string) (string, error) {
	path, err := s.path(namespace, name)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create namespace: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}

	s.logger.Debug("Artifact stored",
		slog.String("namespace", namespace),
		slog.String("name", name),
	)
	return name, nil
}

// Open returns a reader for namespace/name
func (s *FileStorage) Open(_ context.Context, namespace, name string) (io.ReadCloser, error) {
	path, err := s.path(namespace, name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, nil
}

// Exists reports whether namespace/name is present
func (s *FileStorage) Exists(_ context.Context, namespace, name string) (bool, error) {
	path, err := s.path(namespace, name)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat artifact: %w", err)
	}
}

// DeleteNamespace removes the namespace and everything in it. Missing namespaces are ignored.
func (s *FileStorage) DeleteNamespace(_ context.Context, namespace string) error {
	if err := checkName(namespace); err != nil {
		return err
	}

	if err := os.RemoveAll(filepath.Join(s.root, namespace)); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", namespace, err)
	}

	s.logger.Debug("Artifact namespace deleted", slog.String("namespace", namespace))
	return nil
}

// ListNamespaces returns namespaces not modified for longer than olderThan,
// least recently modified first
func (s *FileStorage) ListNamespaces(ctx context.Context, olderThan time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}

	type namespace struct {
		name    string
		modTime time.Time
	}
	cutoff := time.Now().Add(-olderThan)
	var found []namespace
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat namespace: %w", err)
		}
		if info.ModTime().Before(cutoff) {
			found = append(found, namespace{name: entry.Name(), modTime: info.ModTime()})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].modTime.Before(found[j].modTime) })
	names := make([]string, len(found))
	for i, ns := range found {
		names[i] = ns.name
	}
	return names, nil
}

func (s *FileStorage) path(namespace, name string) (string, error) {
	if err := checkName(namespace); err != nil {
		return "", err
	}
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, namespace, name), nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
