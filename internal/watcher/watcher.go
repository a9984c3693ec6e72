package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"jeditr/internal/protocol"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceInterval = 500 * time.Millisecond

// excludedDirs are directories excluded from file counting and tree generation.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"target":       true,
}

// UpdateCallback is called when the project's file count changes.
type UpdateCallback func(fileCount int)

// Watcher monitors the project directory for file changes.
type Watcher struct {
	mu        sync.Mutex
	root      string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	lastCount int
	callback  UpdateCallback
	log       *zap.Logger
}

// New creates a new file system watcher.
func New(callback UpdateCallback, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		callback: callback,
		log:      log.Named("watcher"),
	}
}

// Watch starts watching root and its subdirectories. It replaces any
// previously watched root.
func (w *Watcher) Watch(root string) error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Add directories recursively.
	if err := addDirsRecursive(fsW, root); err != nil {
		fsW.Close()
		return err
	}

	w.Shutdown()

	cancel := make(chan struct{})
	w.mu.Lock()
	w.root = root
	w.fsWatcher = fsW
	w.cancel = cancel
	w.lastCount = -1 // Force initial update.
	w.mu.Unlock()

	// Run the event loop.
	go w.watchLoop(fsW, cancel)

	// Compute initial file count.
	go w.recount()

	return nil
}

// Shutdown stops watching.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	fsW, cancel := w.fsWatcher, w.cancel
	w.fsWatcher, w.cancel = nil, nil
	w.mu.Unlock()

	if fsW != nil {
		close(cancel)
		fsW.Close()
	}
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(fsW *fsnotify.Watcher, cancel chan struct{}) {
	var timer *time.Timer

	for {
		select {
		case <-cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fsW.Events:
			if !ok {
				return
			}

			// If a new directory is created, watch it too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					base := filepath.Base(event.Name)
					if !excludedDirs[base] && !isHidden(base) {
						fsW.Add(event.Name)
					}
				}
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, w.recount)

		case err, ok := <-fsW.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// recount recalculates the file count and notifies if it changed.
func (w *Watcher) recount() {
	w.mu.Lock()
	root := w.root
	w.mu.Unlock()
	if root == "" {
		return
	}

	count := CountFiles(root)

	w.mu.Lock()
	changed := count != w.lastCount
	w.lastCount = count
	w.mu.Unlock()

	if changed && w.callback != nil {
		w.callback(count)
	}
}

// CountFiles counts all non-excluded, non-hidden files in a directory.
func CountFiles(dir string) int {
	var count atomic.Int64
	conf := fastwalk.Config{Follow: false}
	fastwalk.Walk(&conf, dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths.
		}

		name := d.Name()

		if d.IsDir() {
			if path == dir {
				return nil
			}
			if excludedDirs[name] || isHidden(name) {
				return filepath.SkipDir
			}
			return nil
		}

		if isHidden(name) {
			return nil
		}

		count.Add(1)
		return nil
	})
	return int(count.Load())
}

// BuildFileTree generates a FileNode tree for a directory up to maxDepth levels.
func BuildFileTree(dir string, maxDepth int) []protocol.FileNode {
	return buildTreeRecursive(dir, dir, 0, maxDepth)
}

func buildTreeRecursive(rootDir, currentDir string, depth, maxDepth int) []protocol.FileNode {
	if depth >= maxDepth {
		return nil
	}

	entries, err := os.ReadDir(currentDir)
	if err != nil {
		return nil
	}

	// Separate dirs and files, then sort: dirs first, files second.
	var dirs, files []os.DirEntry
	for _, entry := range entries {
		name := entry.Name()
		if excludedDirs[name] || isHidden(name) {
			continue
		}
		if entry.IsDir() {
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}

	nodes := make([]protocol.FileNode, 0, len(dirs)+len(files))

	for _, d := range dirs {
		fullPath := filepath.Join(currentDir, d.Name())
		relPath, _ := filepath.Rel(rootDir, fullPath)
		nodes = append(nodes, protocol.FileNode{
			Name:     d.Name(),
			Path:     filepath.ToSlash(relPath),
			IsDir:    true,
			Children: buildTreeRecursive(rootDir, fullPath, depth+1, maxDepth),
		})
	}

	for _, f := range files {
		fullPath := filepath.Join(currentDir, f.Name())
		relPath, _ := filepath.Rel(rootDir, fullPath)
		var size int64
		if info, err := f.Info(); err == nil {
			size = info.Size()
		}
		nodes = append(nodes, protocol.FileNode{
			Name:  f.Name(),
			Path:  filepath.ToSlash(relPath),
			IsDir: false,
			Size:  size,
		})
	}

	return nodes
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if path != dir && (excludedDirs[name] || isHidden(name)) {
			return filepath.SkipDir
		}

		return w.Add(path)
	})
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
