package guard

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadSignatures reads a YAML signature file. Missing sections fall back to
// the built-in defaults so an operator can override just one family.
func LoadSignatures(path string) (Signatures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Signatures{}, fmt.Errorf("read signature file: %w", err)
	}

	var sigs Signatures
	if err := yaml.Unmarshal(data, &sigs); err != nil {
		return Signatures{}, fmt.Errorf("parse signature file %s: %w", path, err)
	}

	defaults := DefaultSignatures()
	if len(sigs.DecoyPaths) == 0 {
		sigs.DecoyPaths = defaults.DecoyPaths
	}
	if len(sigs.URLPatterns) == 0 {
		sigs.URLPatterns = defaults.URLPatterns
	}
	if len(sigs.ScannerAgents) == 0 {
		sigs.ScannerAgents = defaults.ScannerAgents
	}
	return sigs, nil
}

// Watcher reloads a classifier's signature set when the backing file changes.
type Watcher struct {
	classifier *Classifier
	path       string
	fsw        *fsnotify.Watcher
	logger     *slog.Logger
	done       chan struct{}
}

// WatchSignatures starts watching path and reloads the classifier on every
// write. The initial load happens synchronously so a bad file surfaces at
// startup instead of on first change.
func WatchSignatures(classifier *Classifier, path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sigs, err := LoadSignatures(path)
	if err != nil {
		return nil, err
	}
	classifier.Reload(sigs)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops
	// a watch placed on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	w := &Watcher{
		classifier: classifier,
		path:       path,
		fsw:        fsw,
		logger:     logger,
		done:       make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			sigs, err := LoadSignatures(w.path)
			if err != nil {
				// Keep serving the previous set on a bad reload.
				w.logger.Warn("signature reload failed, keeping previous set",
					"path", w.path, "error", err)
				continue
			}
			w.classifier.Reload(sigs)
			w.logger.Info("signature set reloaded",
				"path", w.path,
				"decoy_paths", len(sigs.DecoyPaths),
				"url_patterns", len(sigs.URLPatterns),
				"scanner_agents", len(sigs.ScannerAgents))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("signature watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
