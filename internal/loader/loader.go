package loader

import (
	"context"
	"io"
	"time"

	"github.com/spellcache/spellcache/pkg/errors"
	"github.com/spellcache/spellcache/pkg/retry"
	"github.com/spellcache/spellcache/pkg/types"
	"github.com/spellcache/spellcache/pkg/utils"
)

// Config configures partition naming
type Config struct {
	Prefix    string                  `yaml:"prefix"`
	Extension string                  `yaml:"extension"`
	Logger    *utils.StructuredLogger `yaml:"-"`

	// Retry retries transport failures. nil means a single attempt.
	Retry *retry.Config `yaml:"retry"`
}

// Loader reads partitions from a Source
type Loader struct {
	source    Source
	prefix    string
	extension string
	codec     Codec
	retryer   *retry.Retryer
	logger    *utils.StructuredLogger
}

// NewLoader creates a loader over source. An empty extension means ".txt".
func NewLoader(source Source, config *Config) *Loader {
	if config == nil {
		config = &Config{}
	}
	ext := config.Extension
	if ext == "" {
		ext = ".txt"
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}

	l := &Loader{
		source:    source,
		prefix:    config.Prefix,
		extension: ext,
		codec:     CodecFor(ext),
		logger:    logger.WithComponent("loader"),
	}
	if config.Retry != nil {
		l.retryer = retry.New(*config.Retry).WithOnRetry(func(attempt int, err error, delay time.Duration) {
			l.logger.Warn("Retrying partition load", map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   err,
			})
		})
	}
	return l
}

// ObjectName returns the stored name of the partition for key
func (l *Loader) ObjectName(key types.PartitionKey) string {
	return l.prefix + string(key) + l.extension
}

// Load reads and decodes the partition for key. Words that do not start with the key's letter
// are dropped.
func (l *Loader) Load(ctx context.Context, key types.PartitionKey) (types.WordSet, error) {
	if l.retryer == nil {
		return l.loadOnce(ctx, key)
	}

	var words types.WordSet
	err := l.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		var err error
		words, err = l.loadOnce(ctx, key)
		return err
	})
	return words, err
}

func (l *Loader) loadOnce(ctx context.Context, key types.PartitionKey) (types.WordSet, error) {
	name := l.ObjectName(key)
	start := time.Now()

	rc, err := l.source.Open(ctx, name)
	if err != nil {
		if _, coded := errors.CodeOf(err); coded {
			return types.WordSet{}, err
		}
		return types.WordSet{}, openFailed(l.source.Name(), name, err)
	}
	defer rc.Close()

	body := &sourceReader{r: rc}
	dec, err := decode(l.codec, body)
	if err != nil {
		return types.WordSet{}, l.readFailed(ctx, name, body, err)
	}
	defer dec.Close()

	lines, err := parseWords(dec)
	if err != nil {
		return types.WordSet{}, l.readFailed(ctx, name, body, err)
	}

	kept := lines[:0]
	for _, word := range lines {
		if types.NewPartitionKey(word) == key {
			kept = append(kept, word)
		}
	}
	if dropped := len(lines) - len(kept); dropped > 0 {
		l.logger.Debug("Dropped words outside partition", map[string]interface{}{
			"key":     key,
			"object":  name,
			"dropped": dropped,
		})
	}

	words := types.NewWordSet(kept...)
	l.logger.Debug("Partition loaded", map[string]interface{}{
		"key":      key,
		"object":   name,
		"source":   l.source.Name(),
		"words":    words.Len(),
		"duration": time.Since(start).String(),
	})
	return words, nil
}

// readFailed classifies a failure while reading the object. Errors raised by the source body
// are transport failures; anything else came from the decoder.
func (l *Loader) readFailed(ctx context.Context, name string, body *sourceReader, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if body.err != nil {
		return errors.NewError(errors.ErrCodePartitionLoadFailed, "failed to read partition object").
			WithComponent("loader").
			WithOperation("read").
			WithDetail("source", l.source.Name()).
			WithDetail("object", name).
			WithCause(body.err)
	}
	return l.corrupt(name, err)
}

// sourceReader remembers the first non-EOF error returned by the source body
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}

func (l *Loader) corrupt(name string, cause error) error {
	return errors.NewError(errors.ErrCodePartitionCorrupt, "failed to decode partition object").
		WithComponent("loader").
		WithOperation("decode").
		WithDetail("source", l.source.Name()).
		WithDetail("object", name).
		WithDetail("codec", string(l.codec)).
		WithCause(cause)
}

var _ types.LoadPartitionFn = (*Loader)(nil).Load
