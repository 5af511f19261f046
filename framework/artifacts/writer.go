package artifacts

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Writer manages artifacts under one directory. Names may contain slashes;
// parent directories are created on demand.
type Writer struct {
	RunDir string

	mu sync.Mutex
}

// NewWriter creates the run directory.
func NewWriter(runDir string) (*Writer, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create artifact dir %s", runDir)
	}
	return &Writer{RunDir: runDir}, nil
}

// Sub returns a writer rooted at a subdirectory, e.g. one per test.
func (w *Writer) Sub(dir string) (*Writer, error) {
	return NewWriter(filepath.Join(w.RunDir, sanitize(dir)))
}

// Path returns the absolute location of name without creating it.
func (w *Writer) Path(name string) string {
	return filepath.Join(w.RunDir, filepath.FromSlash(name))
}

// WriteJSON writes an object to a JSON file under the run directory.
func (w *Writer) WriteJSON(name string, value any) (string, error) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "encode %s", name)
	}
	return w.WriteBytes(name, payload)
}

// WriteText writes a string to a file under the run directory.
func (w *Writer) WriteText(name string, data string) (string, error) {
	return w.WriteBytes(name, []byte(data))
}

// WriteBytes writes bytes to a file under the run directory.
func (w *Writer) WriteBytes(name string, data []byte) (string, error) {
	path := w.Path(name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, "create dir for %s", name)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write %s", name)
	}
	return path, nil
}

// Files lists every regular file under the run directory as slash separated
// paths relative to it, sorted.
func (w *Writer) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.RunDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.RunDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", w.RunDir)
	}
	sort.Strings(files)
	return files, nil
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_")
	name = replacer.Replace(name)
	// Dot-only names resolve to the run directory or its parent.
	if strings.Trim(name, ".") == "" {
		return strings.Repeat("_", len(name)+1)
	}
	return name
}
