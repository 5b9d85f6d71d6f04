package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileStore resolves configurations from a JSON document on disk and reloads
// the document when it changes. The document is a JSON array of
// ClientConfiguration objects.
//
// Reloads swap the full configuration set atomically: resolution never
// observes a partially applied document, and a document that fails to parse
// leaves the previous set in place.
type FileStore struct {
	path    string
	log     *slog.Logger
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	store *Store

	closeOnce sync.Once
	done      chan struct{}
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFileStoreLogger sets the logger used to report reload outcomes. If not
// provided, logs are discarded.
func WithFileStoreLogger(log *slog.Logger) FileStoreOption {
	return func(fs *FileStore) { fs.log = log }
}

// NewFileStore loads the document at path and starts watching its directory
// for changes. Close must be called to release the watcher.
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		log:  slog.New(slog.DiscardHandler),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(fs)
	}

	store, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	fs.store = store

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	// Watch the directory rather than the file so that atomic
	// rename-into-place updates are observed.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	fs.watcher = watcher

	go fs.watch()

	return fs, nil
}

// Resolve implements Resolver against the most recently loaded document.
func (fs *FileStore) Resolve(name string) *ClientConfiguration {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.store.Resolve(name)
}

// Close stops the file watcher.
func (fs *FileStore) Close() error {
	var err error
	fs.closeOnce.Do(func() {
		close(fs.done)
		err = fs.watcher.Close()
	})
	return err
}

func (fs *FileStore) watch() {
	for {
		select {
		case <-fs.done:
			return
		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(fs.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			fs.reload()
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.log.Warn("configuration watcher error", slog.String("err", err.Error()))
		}
	}
}

func (fs *FileStore) reload() {
	store, err := loadFile(fs.path)
	if err != nil {
		fs.log.Warn("configuration reload failed, keeping previous set",
			slog.String("path", fs.path),
			slog.String("err", err.Error()))
		return
	}

	fs.mu.Lock()
	fs.store = store
	fs.mu.Unlock()

	fs.log.Info("configuration reloaded", slog.String("path", fs.path))
}

func loadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfgs []ClientConfiguration
	if err := json.Unmarshal(data, &cfgs); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return NewStore(cfgs...)
}

var _ Resolver = (*FileStore)(nil)
