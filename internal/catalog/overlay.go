package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/wardenhq/warden/internal/store"
)

// Overlay extends the built-in catalog from a JSON file of the shape
//
//	{"permissions": {"name": {"title": "...", "description": "..."}}}
//
// and keeps it current while the file changes on disk. Entries are
// also upserted into the store so role grants can reference them.
type Overlay struct {
	path   string
	store  *store.Store
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]Description
}

type overlayFile struct {
	Permissions map[string]Description `json:"permissions"`
}

func NewOverlay(path string, sqlStore *store.Store, logger *slog.Logger) *Overlay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Overlay{
		path:    path,
		store:   sqlStore,
		logger:  logger,
		entries: map[string]Description{},
	}
}

// Describe resolves a permission description, preferring the overlay
// over the built-in catalog.
func (o *Overlay) Describe(name string) Description {
	o.mu.RLock()
	entry, ok := o.entries[name]
	o.mu.RUnlock()
	if ok {
		return entry
	}
	return Describe(name)
}

// Load reads the overlay file. A missing file is not an error: the
// overlay is optional and simply stays empty.
func (o *Overlay) Load(ctx context.Context) error {
	raw, err := os.ReadFile(o.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read catalog overlay: %w", err)
	}
	var parsed overlayFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse catalog overlay: %w", err)
	}

	o.mu.Lock()
	o.entries = parsed.Permissions
	if o.entries == nil {
		o.entries = map[string]Description{}
	}
	o.mu.Unlock()

	for name, entry := range parsed.Permissions {
		if err := o.store.EnsurePermission(ctx, name, entry.Description); err != nil {
			return fmt.Errorf("upsert overlay permission %s: %w", name, err)
		}
	}
	o.logger.Info("catalog overlay loaded", "path", o.path, "permissions", len(parsed.Permissions))
	return nil
}

// Watch reloads the overlay whenever the file is written, until the
// context is cancelled. Reload failures are logged and the previous
// overlay stays in effect.
func (o *Overlay) Watch(ctx context.Context) error {
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fileWatcher.Close()

	if err := fileWatcher.Add(filepath.Dir(o.path)); err != nil {
		return fmt.Errorf("watch catalog dir: %w", err)
	}
	o.logger.Info("catalog watcher started", "path", o.path)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("catalog watcher stopped")
			return nil
		case event := <-fileWatcher.Events:
			if filepath.Clean(event.Name) != filepath.Clean(o.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := o.Load(ctx); err != nil {
				o.logger.Error("catalog overlay reload failed", "error", err)
			}
		case err := <-fileWatcher.Errors:
			if err != nil {
				o.logger.Error("catalog watcher error", "error", err)
			}
		}
	}
}
