package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sheerbytes/camrelay/pkg/protocol"
)

// File extensions for persisted artifacts.
const (
	LocationExt = ".json"
	ImageExt    = ".jpg"
)

// Store writes per-device artifacts under a base directory:
// <base>/<deviceID>/<stem>.json and <base>/<deviceID>/<stem>.jpg.
type Store struct {
	basePath string
	logger   *slog.Logger
}

// NewStore creates the base directory if needed.
func NewStore(basePath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	logger.Info("artifact store initialized", "path", basePath)
	return &Store{basePath: basePath, logger: logger}, nil
}

// SanitizeName turns an event timestamp into a file stem that stays inside
// the device directory.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "unnamed"
	}
	return name
}

// Path returns the absolute path of an artifact.
func (s *Store) Path(deviceID, name string) string {
	return filepath.Join(s.basePath, SanitizeName(deviceID), name)
}

// SaveLocation writes a location snapshot pretty-printed.
func (s *Store) SaveLocation(ctx context.Context, deviceID, stem string, loc protocol.Location) (string, error) {
	data, err := loc.Indented()
	if err != nil {
		return "", err
	}
	return s.write(ctx, deviceID, SanitizeName(stem)+LocationExt, bytes.NewReader(data))
}

// SaveImage writes a reassembled file.
func (s *Store) SaveImage(ctx context.Context, deviceID, stem string, data []byte) (string, error) {
	return s.write(ctx, deviceID, SanitizeName(stem)+ImageExt, bytes.NewReader(data))
}

// write stores content atomically: temp file, fsync, rename.
func (s *Store) write(ctx context.Context, deviceID, name string, content io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	startTime := time.Now()
	fullPath := s.Path(deviceID, name)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create device directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temporary file: %w", err)
	}
	tempPath := tempFile.Name()
	committed := false
	defer func() {
		if !committed {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	n, err := io.Copy(tempFile, content)
	if err != nil {
		return "", fmt.Errorf("write content: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return "", fmt.Errorf("sync temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("close temporary file: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		return "", fmt.Errorf("move file to final location: %w", err)
	}
	committed = true

	s.logger.Info("artifact stored",
		"path", fullPath,
		"bytes_written", n,
		"duration", time.Since(startTime),
	)
	return fullPath, nil
}

// Exists reports whether an artifact is present.
func (s *Store) Exists(deviceID, name string) (bool, error) {
	_, err := os.Stat(s.Path(deviceID, name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("check artifact: %w", err)
}
