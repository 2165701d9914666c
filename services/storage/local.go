package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/tracing"
)

// LocalStorage keeps blobs as plain files under a root directory. Writes go
// through a temp file and rename so a crash mid-write never leaves a partial
// blob behind at the final path.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: root}
}

func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(key)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *LocalStorage) Write(ctx context.Context, key string, data []byte) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "LocalStorage.Write")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("key", key)
	span.SetTag("bytes", len(data))

	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to create directory for %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".mailvault-*")
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to create temp file for %s", key)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to write %s", key)
	}
	if err := tmp.Close(); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to close %s", key)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to move %s into place", key)
	}
	return nil
}

var _ interfaces.BlobStorage = (*LocalStorage)(nil)
