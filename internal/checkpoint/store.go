// Package checkpoint persists one JSON file per crawled listing page. The file's
// existence marks the page as done for later runs.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

const (
	contentType = "application/json; charset=utf-8"
	// DefaultPadWidth zero-pads page numbers in file names: page_007.json.
	DefaultPadWidth = 3
)

// Config captures the parameters for the checkpoint store.
type Config struct {
	// BaseDir is the directory holding page_NNN.json files.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// PadWidth is the zero-padded width of the page number in file names.
	PadWidth int `mapstructure:"pad_width" yaml:"pad_width"`
}

// Mirror receives a copy of every committed checkpoint.
type Mirror interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Store writes checkpoints to the local filesystem.
type Store struct {
	baseDir  string
	padWidth int
	mirror   Mirror
	logger   *zap.Logger
}

// New creates the base directory if needed and verifies it is writable.
func New(cfg Config, mirror Mirror, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	padWidth := cfg.PadWidth
	if padWidth <= 0 {
		padWidth = DefaultPadWidth
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.BaseDir, ".writable_test-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	probeName := probe.Name()
	if err := probe.Close(); err != nil {
		return nil, fmt.Errorf("failed to close test file: %w", err)
	}
	if err := os.Remove(probeName); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{
		baseDir:  cfg.BaseDir,
		padWidth: padWidth,
		mirror:   mirror,
		logger:   logger,
	}, nil
}

// Name returns the checkpoint file name for page.
func (s *Store) Name(page int) string {
	return fmt.Sprintf("page_%0*d.json", s.padWidth, page)
}

// Path returns the absolute checkpoint path for page.
func (s *Store) Path(page int) string {
	return filepath.Join(s.baseDir, s.Name(page))
}

// Exists reports whether page has been committed. Content is not inspected.
func (s *Store) Exists(page int) (bool, error) {
	info, err := os.Stat(s.Path(page))
	switch {
	case err == nil:
		return info.Mode().IsRegular(), nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat checkpoint: %w", err)
	}
}

// Load reads the PageResult committed for page.
func (s *Store) Load(page int) (crawler.PageResult, error) {
	// #nosec G304 -- path is derived from the configured base dir and a page number.
	data, err := os.ReadFile(s.Path(page))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	result := crawler.PageResult{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.Name(page), err)
	}
	return result, nil
}

// Save atomically commits result for page: the JSON is written to a temporary
// file in the same directory, synced, and renamed into place, so a crash never
// leaves a truncated checkpoint behind. The mirror, if any, is best effort.
func (s *Store) Save(ctx context.Context, page int, result crawler.PageResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	payload, err := encode(result)
	if err != nil {
		return err
	}
	if err := s.writeAtomic(s.Path(page), payload); err != nil {
		return err
	}
	s.logger.Debug("checkpoint written", zap.String("path", s.Path(page)), zap.Int("items", len(result)))

	if s.mirror != nil {
		uri, err := s.mirror.PutObject(ctx, s.Name(page), contentType, bytes.NewReader(payload))
		if err != nil {
			s.logger.Warn("checkpoint mirror failed; local copy is authoritative",
				zap.Int("page", page), zap.Error(err))
			return nil
		}
		s.logger.Debug("checkpoint mirrored", zap.Int("page", page), zap.String("uri", uri))
	}
	return nil
}

func (s *Store) writeAtomic(target string, payload []byte) error {
	tmp, err := os.CreateTemp(s.baseDir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("failed to remove temp checkpoint", zap.String("path", tmpName), zap.Error(rmErr))
		}
	}

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// encode renders result as indented, key-sorted UTF-8 JSON without HTML escaping.
func encode(result crawler.PageResult) ([]byte, error) {
	clean := make(map[string]string, len(result))
	for id, html := range result {
		clean[strings.ToValidUTF8(id, "�")] = strings.ToValidUTF8(html, "�")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(clean); err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return buf.Bytes(), nil
}
