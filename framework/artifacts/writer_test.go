package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "run-1"))
	require.NoError(t, err)

	path, err := w.WriteJSON("results.json", map[string]int{"total": 2})
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":2}`, string(data))

	sub, err := w.Sub("tests/firmware version")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.RunDir, "tests_firmware_version"), sub.RunDir)
	_, err = sub.WriteText("iterations/1.log", "ok\n")
	require.NoError(t, err)

	files, err := w.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"results.json", "tests_firmware_version/iterations/1.log"}, files)
}

func TestSubStaysInRunDir(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "run-1"))
	require.NoError(t, err)

	for name, want := range map[string]string{"..": "___", ".": "__", "": "_", " ../x": ".._x"} {
		sub, err := w.Sub(name)
		require.NoError(t, err, name)
		assert.Equal(t, filepath.Join(w.RunDir, want), sub.RunDir, name)
	}
}
