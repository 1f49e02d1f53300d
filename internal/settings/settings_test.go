package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultsWhenMissing(t *testing.T) {
	f := Open(t.TempDir(), nil)

	assert.Equal(t, "fallback", f.Get("missing", "fallback"))
	assert.False(t, f.Bool(KeyInstallAutomatically, false))
	assert.True(t, f.Bool(KeyInstallAutomatically, true))
}

func TestSetIsNotPersistedUntilSave(t *testing.T) {
	dir := t.TempDir()
	f := Open(dir, nil)

	assert.Equal(t, true, f.Set(KeyInstallAutomatically, true))
	assert.True(t, f.Bool(KeyInstallAutomatically, false))

	_, err := os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(err), "settings written before save")

	require.NoError(t, f.SaveChangesOnDisk())

	reopened := Open(dir, nil)
	assert.True(t, reopened.Bool(KeyInstallAutomatically, false))
}

func TestSaveIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	f := Open(dir, nil)
	f.Set(KeyInstallAutomatically, true)

	require.NoError(t, f.SaveChangesOnDisk())
	first, err := os.ReadFile(f.Path())
	require.NoError(t, err)

	require.NoError(t, f.SaveChangesOnDisk())
	second, err := os.ReadFile(f.Path())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.JSONEq(t, `{"installAutomatically": true}`, string(first))
}

func TestCorruptFileReadsAsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "{not json"},
		{"array", `[1, 2, 3]`},
		{"null", "null"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(tt.content), 0o600))

			f := Open(dir, nil)
			assert.False(t, f.Bool(KeyInstallAutomatically, false))

			f.Set(KeyInstallAutomatically, true)
			require.NoError(t, f.SaveChangesOnDisk())
			assert.True(t, Open(dir, nil).Bool(KeyInstallAutomatically, false))
		})
	}
}

func TestLoadIsLazyAndCached(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"installAutomatically": true}`), 0o600))

	f := Open(dir, nil)
	require.NoError(t, os.WriteFile(path, []byte(`{"installAutomatically": false}`), 0o600))
	assert.False(t, f.Bool(KeyInstallAutomatically, true), "first access reads current file")

	require.NoError(t, os.WriteFile(path, []byte(`{"installAutomatically": true}`), 0o600))
	assert.False(t, f.Bool(KeyInstallAutomatically, true), "later access uses cache")
}

func TestBoolIgnoresWrongType(t *testing.T) {
	f := Open(t.TempDir(), nil)
	f.Set(KeyInstallAutomatically, "yes")
	assert.True(t, f.Bool(KeyInstallAutomatically, true))
}
