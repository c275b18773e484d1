package migrate

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestRun_MovesLegacyTree(t *testing.T) {
	base := t.TempDir()
	legacy := filepath.Join(base, "accounts")
	root := filepath.Join(base, "data", "gateway", "accounts")

	writeFile(t, filepath.Join(legacy, "12345", "device.json"), `{"protocol":1}`)
	writeFile(t, filepath.Join(legacy, "12345", "session.token"), "\x00\x01")
	writeFile(t, filepath.Join(legacy, "67890", "config.yml"), "account: {}")
	symlinks := runtime.GOOS != "windows"
	if symlinks {
		require.NoError(t, os.Symlink("device.json", filepath.Join(legacy, "12345", "link.json")))
	}

	r := New(legacy, root, nil)
	require.NoError(t, r.Run())
	assert.True(t, r.Moved())

	data, err := os.ReadFile(filepath.Join(root, "12345", "device.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"protocol":1}`, string(data))

	token, err := os.ReadFile(filepath.Join(root, "12345", "session.token"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1}, token)

	if symlinks {
		link, err := os.Readlink(filepath.Join(root, "12345", "link.json"))
		require.NoError(t, err)
		assert.Equal(t, "device.json", link)
	}

	_, err = os.Stat(filepath.Join(root, "67890", "config.yml"))
	assert.NoError(t, err)

	_, err = os.Stat(legacy)
	assert.True(t, os.IsNotExist(err), "legacy directory should be removed")
}

func TestRun_IntoEmptyRoot(t *testing.T) {
	base := t.TempDir()
	legacy := filepath.Join(base, "accounts")
	root := filepath.Join(base, "new")
	writeFile(t, filepath.Join(legacy, "1", "device.json"), "{}")
	require.NoError(t, os.MkdirAll(root, 0700))

	r := New(legacy, root, nil)
	require.NoError(t, r.Run())
	assert.True(t, r.Moved())
	assert.FileExists(t, filepath.Join(root, "1", "device.json"))
}

func TestRun_RootNotEmpty(t *testing.T) {
	base := t.TempDir()
	legacy := filepath.Join(base, "accounts")
	root := filepath.Join(base, "new")
	writeFile(t, filepath.Join(legacy, "1", "device.json"), "old")
	writeFile(t, filepath.Join(root, "1", "device.json"), "new")

	r := New(legacy, root, nil)
	require.NoError(t, r.Run())
	assert.False(t, r.Moved())

	data, err := os.ReadFile(filepath.Join(root, "1", "device.json"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.DirExists(t, legacy)
}

func TestRun_NoLegacy(t *testing.T) {
	base := t.TempDir()
	r := New(filepath.Join(base, "accounts"), filepath.Join(base, "new"), nil)
	require.NoError(t, r.Run())
	assert.False(t, r.Moved())
	assert.NoDirExists(t, filepath.Join(base, "new"))
}

func TestRun_SameDirectory(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "accounts")
	writeFile(t, filepath.Join(dir, "1", "device.json"), "{}")

	r := New(dir, dir+string(filepath.Separator), nil)
	require.NoError(t, r.Run())
	assert.False(t, r.Moved())
	assert.FileExists(t, filepath.Join(dir, "1", "device.json"))
}

func TestRun_RootInsideLegacy(t *testing.T) {
	base := t.TempDir()
	legacy := filepath.Join(base, "accounts")
	writeFile(t, filepath.Join(legacy, "1", "device.json"), "{}")

	r := New(legacy, filepath.Join(legacy, "nested"), nil)
	assert.Error(t, r.Run())
	assert.FileExists(t, filepath.Join(legacy, "1", "device.json"))
}

func TestRun_Memoized(t *testing.T) {
	base := t.TempDir()
	legacy := filepath.Join(base, "accounts")
	root := filepath.Join(base, "new")
	writeFile(t, filepath.Join(legacy, "1", "device.json"), "{}")

	r := New(legacy, root, nil)
	require.NoError(t, r.Run())

	// A legacy directory that reappears is ignored by the same runner.
	writeFile(t, filepath.Join(legacy, "2", "device.json"), "{}")
	require.NoError(t, r.Run())
	assert.NoFileExists(t, filepath.Join(root, "2", "device.json"))

	failing := New(legacy, filepath.Join(legacy, "inner"), nil)
	first := failing.Run()
	require.Error(t, first)
	assert.Equal(t, first, failing.Run())
}
