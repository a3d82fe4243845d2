// Package filestore persists sessions as one JSON document per file,
// optionally zstd-compressed.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	fsutil "github.com/desduvauchelle/tamias-sub001/internal/shared/filestore"
	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"github.com/klauspost/compress/zstd"
)

const (
	plainExt      = ".json"
	compressedExt = ".json.zst"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var _ ports.SessionStore = (*Store)(nil)

// Store keeps sessions under baseDir.
type Store struct {
	baseDir  string
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	logger   logging.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithCompression writes new records as .json.zst. Plain files are still
// read, so the setting can be flipped on an existing directory.
func WithCompression(enabled bool) Option {
	return func(s *Store) { s.compress = enabled }
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(logger) }
}

// New creates the directory if needed.
func New(baseDir string, opts ...Option) (*Store, error) {
	baseDir = fsutil.ResolvePath(baseDir, "")
	if baseDir == "" {
		return nil, fmt.Errorf("session dir required")
	}
	if err := fsutil.EnsureDir(baseDir); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	s := &Store{
		baseDir: baseDir,
		encoder: enc,
		decoder: dec,
		logger:  logging.NewComponentLogger("SessionFileStore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load implements ports.SessionStore. A compressed record wins over a plain
// one with the same id.
func (s *Store) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return nil, ports.ErrSessionNotStored
	}
	data, err := os.ReadFile(s.path(sessionID, compressedExt))
	if err == nil {
		data, err = s.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress session %s: %w", sessionID, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		data, err = os.ReadFile(s.path(sessionID, plainExt))
		if errors.Is(err, os.ErrNotExist) {
			return nil, ports.ErrSessionNotStored
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	var sess session.Session
	if err := jsonx.Unmarshal(data, &sess); err != nil {
		s.logger.Error("Failed to decode session file %s: %v. Preview: %s", sessionID, err, previewJSON(data))
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Save implements ports.SessionStore.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	if !sessionIDPattern.MatchString(sess.ID) {
		return fmt.Errorf("invalid session id %q", sess.ID)
	}
	data, err := jsonx.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	target, stale := plainExt, compressedExt
	if s.compress {
		data = s.encoder.EncodeAll(data, nil)
		target, stale = compressedExt, plainExt
	}
	if err := fsutil.AtomicWrite(s.path(sess.ID, target), data, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", sess.ID, err)
	}
	if err := os.Remove(s.path(sess.ID, stale)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove stale session file for %s: %v", sess.ID, err)
	}
	return nil
}

// List implements ports.SessionStore. Ids are returned sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	seen := make(map[string]struct{}, len(entries))
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var sessionID string
		switch {
		case strings.HasSuffix(name, compressedExt):
			sessionID = strings.TrimSuffix(name, compressedExt)
		case strings.HasSuffix(name, plainExt):
			sessionID = strings.TrimSuffix(name, plainExt)
		default:
			continue
		}
		if !sessionIDPattern.MatchString(sessionID) {
			continue
		}
		if _, ok := seen[sessionID]; ok {
			continue
		}
		seen[sessionID] = struct{}{}
		ids = append(ids, sessionID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete implements ports.SessionStore. Deleting an unknown id is not an
// error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return nil
	}
	for _, ext := range []string{plainExt, compressedExt} {
		if err := os.Remove(s.path(sessionID, ext)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete session %s: %w", sessionID, err)
		}
	}
	return nil
}

// Close releases the zstd codec resources.
func (s *Store) Close() error {
	err := s.encoder.Close()
	s.decoder.Close()
	return err
}

func (s *Store) path(sessionID, ext string) string {
	return filepath.Join(s.baseDir, sessionID+ext)
}

func previewJSON(data []byte) string {
	const limit = 256
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) > limit {
		return trimmed[:limit] + "..."
	}
	return trimmed
}
