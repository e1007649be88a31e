// Package repofile provides a file-backed session.Repo so CLI sessions
// survive process restarts.
package repofile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// FileRepo persists key/value pairs as a single JSON document on disk.
// Every mutation rewrites the file; the session payload is a handful of
// short strings so this stays cheap.
type FileRepo struct {
	mu     sync.Mutex
	path   string
	log    zerolog.Logger
	values map[string]string
}

// New loads (or initialises) a FileRepo at path. A missing or unreadable
// file starts empty rather than failing: a corrupt session cache is
// equivalent to being logged out.
func New(path string, logger zerolog.Logger) *FileRepo {
	r := &FileRepo{
		path:   path,
		log:    logger,
		values: make(map[string]string),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return r
	}
	if err := json.Unmarshal(raw, &r.values); err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("discarding corrupt session file")
		r.values = make(map[string]string)
	}
	return r
}

func (r *FileRepo) Get(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	return v, ok
}

func (r *FileRepo) Set(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	r.flush()
}

func (r *FileRepo) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	r.flush()
}

// flush writes the current map to disk. Caller holds the mutex.
func (r *FileRepo) flush() {
	raw, err := json.MarshalIndent(r.values, "", "  ")
	if err != nil {
		r.log.Warn().Err(err).Msg("could not encode session file")
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		r.log.Warn().Err(err).Msg("could not create session directory")
		return
	}
	if err := os.WriteFile(r.path, raw, 0o600); err != nil {
		r.log.Warn().Err(err).Str("path", r.path).Msg("could not write session file")
	}
}
