package pdf

import (
	"context"
	"errors"
	"io"
)

var ErrInvalidManifest = errors.New("invalid_manifest")

type Provider interface {
	GenerateManifest(ctx context.Context, data ManifestData) (io.Reader, error)
}

// NoOpProvider returns an empty document. Useful where rendering is not wanted.
type NoOpProvider struct{}

func (p *NoOpProvider) GenerateManifest(ctx context.Context, data ManifestData) (io.Reader, error) {
	return nil, nil
}
