package loader

import (
	"bytes"
	"context"
	"io"

	"github.com/spellcache/spellcache/internal/circuit"
	"github.com/spellcache/spellcache/pkg/errors"
)

// Source opens stored partition objects by name
type Source interface {
	// Open returns the raw object. A missing object is reported with PARTITION_NOT_FOUND.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Name identifies the source in logs
	Name() string
}

func notFound(source, name string, cause error) error {
	return errors.NewError(errors.ErrCodePartitionNotFound, "partition object does not exist").
		WithComponent("loader").
		WithOperation("open").
		WithDetail("source", source).
		WithDetail("object", name).
		WithCause(cause)
}

func openFailed(source, name string, cause error) error {
	return errors.NewError(errors.ErrCodePartitionLoadFailed, "failed to open partition object").
		WithComponent("loader").
		WithOperation("open").
		WithDetail("source", source).
		WithDetail("object", name).
		WithCause(cause)
}

// GuardedSource rejects opens while its circuit breaker is open
type GuardedSource struct {
	source  Source
	breaker *circuit.Breaker
}

// NewGuardedSource wraps source with breaker
func NewGuardedSource(source Source, breaker *circuit.Breaker) *GuardedSource {
	return &GuardedSource{source: source, breaker: breaker}
}

// Name implements Source
func (s *GuardedSource) Name() string {
	return s.source.Name()
}

// Open implements Source. The object is read in full under the breaker, so a body that fails
// mid-stream counts against the source like a failed open.
func (s *GuardedSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	var data []byte
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		rc, err := s.source.Open(ctx, name)
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
