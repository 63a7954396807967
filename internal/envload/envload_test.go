package envload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind_WalksUpToParent(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	envFile := filepath.Join(root, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("EXPLORER_LOG_LEVEL=debug\n"), 0o600))

	got, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, envFile, got)

	vals, err := godotenv.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "debug", vals["EXPLORER_LOG_LEVEL"])
}

func TestFind_IgnoresDirectoryNamedEnv(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".env"), 0o755))

	got, err := Find(root)
	require.NoError(t, err)
	if got != "" {
		assert.NotEqual(t, filepath.Join(root, ".env"), got)
	}
}

func TestEnsure_SkippedUnderTest(t *testing.T) {
	t.Setenv("GOTEST_LOAD_DOTENV", "")
	path, err := Ensure()
	assert.NoError(t, err)
	assert.Empty(t, path)
}
