// Package settings persists user preferences as a single JSON object.
//
// The file is read lazily on first access and cached. Changes stay in memory
// until SaveChangesOnDisk. A missing or corrupt file reads as empty.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ZebulonRouseFrantzich/keel/internal/logging"
	"github.com/ZebulonRouseFrantzich/keel/internal/store"
)

// FileName is the settings file under the data directory.
const FileName = "settings.json"

// KeyInstallAutomatically is the automatic install preference.
const KeyInstallAutomatically = "installAutomatically"

// File is a settings document.
type File struct {
	path   string
	logger logging.Logger

	mu     sync.Mutex
	loaded bool
	values map[string]interface{}
}

// Open returns the settings file in dataDir. Nothing is read until the first
// access.
func Open(dataDir string, logger logging.Logger) *File {
	return &File{
		path:   filepath.Join(dataDir, FileName),
		logger: logging.OrNop(logger),
	}
}

// Path returns the settings file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) load() {
	if f.loaded {
		return
	}
	f.loaded = true
	f.values = make(map[string]interface{})

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		f.logger.Warn("settings unreadable, starting empty", "path", f.path, "error", err)
		return
	}

	var values map[string]interface{}
	if err := json.Unmarshal(data, &values); err != nil || values == nil {
		f.logger.Warn("settings corrupt, starting empty", "path", f.path, "error", err)
		return
	}
	f.values = values
}

// Get returns the value stored under key, or def when absent.
func (f *File) Get(key string, def interface{}) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.load()
	if v, ok := f.values[key]; ok {
		return v
	}
	return def
}

// Bool returns a boolean setting. Non-boolean values read as def.
func (f *File) Bool(key string, def bool) bool {
	b, ok := f.Get(key, def).(bool)
	if !ok {
		return def
	}
	return b
}

// Set stores value under key in memory and returns it.
func (f *File) Set(key string, value interface{}) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.load()
	f.values[key] = value
	return value
}

// SaveChangesOnDisk writes the current document. Saving an unchanged document
// rewrites identical bytes.
func (f *File) SaveChangesOnDisk() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.load()

	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := store.WriteFileAtomic(f.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
