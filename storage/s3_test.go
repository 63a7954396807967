package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "simple key", path: "job/screenshot_01.png"},
		{name: "dotfile allowed", path: ".thumbs/a.png"},
		{name: "empty", path: "", wantErr: true},
		{name: "parent traversal", path: "../secret", wantErr: true},
		{name: "nested traversal", path: "a/../../secret", wantErr: true},
		{name: "absolute", path: "/etc/passwd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestS3Storage_KeyPrefix(t *testing.T) {
	s := &S3Storage{prefix: "explorer/shots"}
	key, err := s.key("job-1/screenshot_01.png")
	require.NoError(t, err)
	assert.Equal(t, "explorer/shots/job-1/screenshot_01.png", key)

	s.prefix = ""
	key, err = s.key("job-1/./screenshot_01.png")
	require.NoError(t, err)
	assert.Equal(t, "job-1/screenshot_01.png", key)
}

func TestNewBlobStorage(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "local", cfg: Config{Type: "local", BaseDir: t.TempDir()}},
		{name: "default type is local", cfg: Config{BaseDir: t.TempDir()}},
		{name: "local without dir", cfg: Config{Type: "local"}, wantErr: true},
		{name: "s3 without bucket", cfg: Config{Type: "s3", S3Region: "us-east-1"}, wantErr: true},
		{name: "s3 without region", cfg: Config{Type: "s3", S3Bucket: "b"}, wantErr: true},
		{name: "unknown", cfg: Config{Type: "gcs"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewBlobStorage(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestNewBlobStorage_S3Options(t *testing.T) {
	s, err := NewBlobStorage(Config{
		Type:          "s3",
		S3Bucket:      "shots",
		S3Region:      "us-east-1",
		S3Prefix:      "/team-a/",
		PresignExpiry: time.Hour,
	})
	require.NoError(t, err)
	s3s, ok := s.(*S3Storage)
	require.True(t, ok)
	assert.Equal(t, "team-a", s3s.prefix)
	assert.Equal(t, time.Hour, s3s.presignExpiration)
}

func TestIsS3NotFoundError(t *testing.T) {
	assert.True(t, isS3NotFoundError(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.True(t, isS3NotFoundError(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isS3NotFoundError(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isS3NotFoundError(errors.New("boom")))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", contentTypeFor("a/b.PNG"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("a/b"))
}
