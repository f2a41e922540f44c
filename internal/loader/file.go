package loader

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// FileSource reads partitions from a local directory
type FileSource struct {
	dir string
}

// NewFileSource creates a source rooted at dir
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Name implements Source
func (s *FileSource) Name() string {
	return "file://" + s.dir
}

// Open implements Source
func (s *FileSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(s.Name(), name, err)
		}
		return nil, openFailed(s.Name(), name, err)
	}
	return f, nil
}
