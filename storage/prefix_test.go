package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithPrefix(t *testing.T) {
	ctx := context.Background()
	base, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	assert.Same(t, base, WithPrefix(base, "/"))

	job := WithPrefix(base, "/job-1/")
	require.NoError(t, job.Upload(ctx, "screenshot_01.png", bytes.NewReader([]byte("png"))))
	require.NoError(t, base.Upload(ctx, "job-2/screenshot_01.png", bytes.NewReader([]byte("other"))))

	exists, err := base.Exists(ctx, "job-1/screenshot_01.png")
	require.NoError(t, err)
	assert.True(t, exists)

	names, err := job.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"screenshot_01.png"}, names)

	rc, err := job.Download(ctx, "screenshot_01.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	require.NoError(t, job.Delete(ctx, "screenshot_01.png"))
	names, err = job.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}
