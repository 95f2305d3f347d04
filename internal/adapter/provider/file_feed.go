package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileFeedProvider reads the feed from a JSON document on disk, e.g. an
// export dropped by the scanner or a fixture in development.
type FileFeedProvider struct {
	path string
}

func NewFileFeedProvider(path string) *FileFeedProvider {
	return &FileFeedProvider{path: path}
}

func (p *FileFeedProvider) Name() string {
	return "file:" + filepath.Base(p.path)
}

func (p *FileFeedProvider) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feed file: %w", err)
	}
	defer f.Close()

	return readPayload(f)
}
