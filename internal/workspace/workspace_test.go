package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func paths(t *testing.T, w *Workspace) []string {
	t.Helper()
	files, err := w.ListFiles()
	require.NoError(t, err)
	var result []string
	for _, f := range files {
		result = append(result, f.Path)
	}
	sort.Strings(result)
	return result
}

func TestNew_RejectsMissingAndFile(t *testing.T) {
	_, err := New("/nonexistent/path/xyz", nil, 0)
	assert.Error(t, err)

	f := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err = New(f, nil, 0)
	assert.Error(t, err)

	_, err = New(t.TempDir(), []string{"[unclosed"}, 0)
	assert.Error(t, err)
}

func TestReadAndSaveFile(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, nil, 0)
	require.NoError(t, err)

	require.NoError(t, w.SaveFile("src/nested/main.go", "package main\n"))
	content, err := w.ReadFile("src/nested/main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", content)

	require.NoError(t, w.SaveFile(filepath.Join(root, "src/nested/main.go"), "package other\n"))
	content, err = w.ReadFile("src/nested/main.go")
	require.NoError(t, err)
	assert.Equal(t, "package other\n", content)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Join(root, "src", "nested"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadFile_Missing(t *testing.T) {
	w, err := New(t.TempDir(), nil, 0)
	require.NoError(t, err)

	_, err = w.ReadFile("nope.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "nope.txt")
}

func TestReadFile_Binary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "logo.png", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	writeFile(t, root, "data.json", `{"a": 1}`)

	w, err := New(root, nil, 0)
	require.NoError(t, err)

	_, err = w.ReadFile("logo.png")
	assert.ErrorIs(t, err, ErrBinaryFile)

	content, err := w.ReadFile("data.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, content)
}

func TestListFiles_IgnoresAndDetectsLanguage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "docs/README.md", "# docs")
	writeFile(t, root, ".git/HEAD", "ref")
	writeFile(t, root, "web/node_modules/pkg/index.js", "x")

	w, err := New(root, DefaultIgnore, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"docs/README.md", "main.go"}, paths(t, w))

	files, err := w.ListFiles()
	require.NoError(t, err)
	for _, f := range files {
		require.NotNil(t, f.Language)
		if f.Name == "main.go" {
			assert.Equal(t, "go", *f.Language)
		}
	}
}

func TestListFiles_Limit(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		writeFile(t, root, name, name)
	}

	w, err := New(root, nil, 3)
	require.NoError(t, err)
	assert.Len(t, paths(t, w), 3)
}

func TestListGitFiles(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	writeFile(t, root, "tracked.go", "package x")
	writeFile(t, root, "untracked.txt", "x")

	for _, args := range [][]string{{"init", "-q"}, {"add", "tracked.go"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		require.NoError(t, cmd.Run())
	}

	w, err := New(root, nil, 0)
	require.NoError(t, err)

	files, err := w.ListGitFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "tracked.go", files[0].Path)
	assert.Equal(t, "tracked.go", files[0].Name)
}

func TestListGitFiles_NotARepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_CEILING_DIRECTORIES", os.TempDir())
	root := t.TempDir()

	w, err := New(root, nil, 0)
	require.NoError(t, err)

	_, err = w.ListGitFiles(context.Background())
	assert.Error(t, err)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"src/lib.RS", "rust"},
		{"Makefile", "makefile"},
		{"notes", ""},
	}
	for _, tt := range tests {
		got := DetectLanguage(tt.path)
		if tt.want == "" {
			assert.Nil(t, got, tt.path)
			continue
		}
		require.NotNil(t, got, tt.path)
		assert.Equal(t, tt.want, *got)
	}
}
