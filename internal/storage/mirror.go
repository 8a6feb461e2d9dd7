// Package storage composes BlobStores. Concrete backends live in the local,
// memory, gcs and postgres subpackages.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/crawler"
)

// Mirror writes every object to a primary store and, best effort, to a
// secondary one. Only primary failures are returned.
type Mirror struct {
	primary   crawler.BlobStore
	secondary crawler.BlobStore
	logger    *zap.Logger
}

// NewMirror pairs primary with secondary. A nil secondary disables mirroring.
func NewMirror(primary, secondary crawler.BlobStore, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{primary: primary, secondary: secondary, logger: logger}
}

// PutObject implements crawler.BlobStore and returns the primary URI.
func (m *Mirror) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	if m.secondary == nil {
		return m.primary.PutObject(ctx, path, contentType, data) //nolint:wrapcheck
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	uri, err := m.primary.PutObject(ctx, path, contentType, bytes.NewReader(body))
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	mirrored, err := m.secondary.PutObject(ctx, path, contentType, bytes.NewReader(body))
	if err != nil {
		m.logger.Warn("mirror upload failed", zap.String("path", path), zap.Error(err))
		return uri, nil
	}
	m.logger.Debug("mirrored object", zap.String("path", path), zap.String("uri", mirrored))
	return uri, nil
}
