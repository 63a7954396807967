package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

type prefixed struct {
	base   BlobStorage
	prefix string
}

// WithPrefix scopes every path of base under prefix. List returns paths
// relative to the prefix.
func WithPrefix(base BlobStorage, prefix string) BlobStorage {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return base
	}
	return &prefixed{base: base, prefix: prefix}
}

func (p *prefixed) full(name string) string {
	return path.Join(p.prefix, name)
}

func (p *prefixed) Upload(ctx context.Context, name string, reader io.Reader) error {
	return p.base.Upload(ctx, p.full(name), reader)
}

func (p *prefixed) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	return p.base.Download(ctx, p.full(name))
}

func (p *prefixed) Delete(ctx context.Context, name string) error {
	return p.base.Delete(ctx, p.full(name))
}

func (p *prefixed) Exists(ctx context.Context, name string) (bool, error) {
	return p.base.Exists(ctx, p.full(name))
}

func (p *prefixed) List(ctx context.Context, prefix string) ([]string, error) {
	all, err := p.base.List(ctx, p.full(prefix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, name := range all {
		out = append(out, strings.TrimPrefix(name, p.prefix+"/"))
	}
	return out, nil
}

func (p *prefixed) GetURL(ctx context.Context, name string) (string, error) {
	return p.base.GetURL(ctx, p.full(name))
}
