// Package workspace reads, writes and lists files of the open project.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"jeditr/internal/protocol"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
)

const defaultMaxFiles = 100

// DefaultIgnore are glob patterns skipped by ListFiles.
var DefaultIgnore = []string{"**/.git/**", "**/node_modules/**"}

// ErrBinaryFile is returned by ReadFile for content that is not text.
var ErrBinaryFile = errors.New("not a text file")

// errLimit stops the directory walk once enough files were collected.
var errLimit = errors.New("file limit reached")

// Workspace is a project directory. Relative paths resolve against its root;
// absolute paths are used as given.
type Workspace struct {
	root     string
	ignore   []string
	maxFiles int
}

// New opens the project directory root.
func New(root string, ignore []string, maxFiles int) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("working directory does not exist: %s", abs)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", abs)
	}

	for _, pattern := range ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern: %q", pattern)
		}
	}
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}

	return &Workspace{root: abs, ignore: ignore, maxFiles: maxFiles}, nil
}

// Root returns the absolute project directory.
func (w *Workspace) Root() string { return w.root }

// Path resolves p against the project root.
func (w *Workspace) Path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(w.root, p)
}

// ReadFile returns the content of a text file.
func (w *Workspace) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(w.Path(path))
	if err != nil {
		return "", fmt.Errorf("read file %s: %w", path, err)
	}
	if mtype := mimetype.Detect(data); !isText(mtype) {
		return "", fmt.Errorf("read file %s (%s): %w", path, mtype.String(), ErrBinaryFile)
	}
	return string(data), nil
}

// isText reports whether mtype is text/plain or one of its descendants,
// which covers JSON, XML, source code and friends.
func isText(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// SaveFile writes content atomically: parent directories are created, the
// data goes to a synced temporary file first, which is then renamed over path.
func (w *Workspace) SaveFile(path, content string) error {
	target := w.Path(path)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp~")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}

	if info, err := os.Stat(target); err == nil {
		os.Chmod(tmp.Name(), info.Mode().Perm())
	} else {
		os.Chmod(tmp.Name(), 0o644)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("move temp file into place for %s: %w", path, err)
	}
	return nil
}

// ListFiles walks the project and returns up to maxFiles regular files,
// skipping ignored paths. Paths are relative to the root.
func (w *Workspace) ListFiles() ([]protocol.FileMetadata, error) {
	files := make([]protocol.FileMetadata, 0)
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths.
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if w.ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		files = append(files, newMetadata(rel))
		if len(files) >= w.maxFiles {
			return errLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return nil, fmt.Errorf("list files in %s: %w", w.root, err)
	}
	return files, nil
}

// ListGitFiles returns up to maxFiles paths tracked by git in the project.
func (w *Workspace) ListGitFiles(ctx context.Context) ([]protocol.FileMetadata, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-files")
	cmd.Dir = w.root

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("git ls-files: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	files := make([]protocol.FileMetadata, 0)
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		files = append(files, newMetadata(line))
		if len(files) >= w.maxFiles {
			break
		}
	}
	return files, nil
}

func (w *Workspace) ignored(rel string, isDir bool) bool {
	candidates := []string{rel}
	if isDir {
		// Let "dir/**" patterns prune the directory itself.
		candidates = append(candidates, rel+"/")
	}
	for _, pattern := range w.ignore {
		for _, c := range candidates {
			if ok, _ := doublestar.Match(pattern, c); ok {
				return true
			}
		}
	}
	return false
}

func newMetadata(rel string) protocol.FileMetadata {
	return protocol.FileMetadata{
		Path:     rel,
		Name:     filepath.Base(rel),
		Language: DetectLanguage(rel),
	}
}
