package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spellcache/spellcache/internal/cache"
	"github.com/spellcache/spellcache/internal/circuit"
	"github.com/spellcache/spellcache/pkg/errors"
	"github.com/spellcache/spellcache/pkg/retry"
	"github.com/spellcache/spellcache/pkg/types"
	"github.com/spellcache/spellcache/pkg/utils"
)

func writePartitionFile(t *testing.T, dir, name string, words []string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WritePartition(&buf, name, words))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
}

func TestCodecFor(t *testing.T) {
	tests := map[string]Codec{
		"п.txt":     CodecPlain,
		"п":         CodecPlain,
		"п.txt.gz":  CodecGzip,
		"п.txt.zst": CodecZstd,
		"п.txt.lz4": CodecLZ4,
	}
	for name, want := range tests {
		assert.Equal(t, want, CodecFor(name), name)
	}
}

func TestLoader_LoadAllCodecs(t *testing.T) {
	words := []string{"привет", "Пока", "пирог"}

	for _, ext := range []string{".txt", ".txt.gz", ".txt.zst", ".txt.lz4"} {
		t.Run(ext, func(t *testing.T) {
			dir := t.TempDir()
			writePartitionFile(t, dir, "п"+ext, words)

			l := NewLoader(NewFileSource(dir), &Config{Extension: ext, Logger: utils.NopLogger()})
			got, err := l.Load(context.Background(), "п")
			require.NoError(t, err)
			assert.Equal(t, []string{"пирог", "пока", "привет"}, got.Words())
		})
	}
}

func TestLoader_SkipsCommentsAndForeignWords(t *testing.T) {
	dir := t.TempDir()
	content := "# partition с\n\nсок\n  Сыр  \nарбуз\n#comment\nслово\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "с.txt"), []byte(content), 0o644))

	l := NewLoader(NewFileSource(dir), &Config{Logger: utils.NopLogger()})
	got, err := l.Load(context.Background(), "с")
	require.NoError(t, err)

	assert.Equal(t, []string{"слово", "сок", "сыр"}, got.Words())
	assert.False(t, got.Contains("арбуз"))
}

func TestLoader_Prefix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ru"), 0o755))
	writePartitionFile(t, dir, "ru/к.txt", []string{"кот"})

	l := NewLoader(NewFileSource(dir), &Config{Prefix: "ru/", Logger: utils.NopLogger()})
	assert.Equal(t, "ru/к.txt", l.ObjectName("к"))

	got, err := l.Load(context.Background(), "к")
	require.NoError(t, err)
	assert.True(t, got.Contains("кот"))
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "б.txt.gz"), []byte("not gzip at all"), 0o644))

	l := NewLoader(NewFileSource(dir), &Config{Extension: ".txt.gz", Logger: utils.NopLogger()})

	_, err := l.Load(context.Background(), "я")
	assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodePartitionNotFound)), "got %v", err)

	_, err = l.Load(context.Background(), "б")
	assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodePartitionCorrupt)), "got %v", err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Load(ctx, "б")
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeS3 struct {
	objects map[string]string
	err     error
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[*params.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString(body))}, nil
}

func TestS3Source(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"dict/м.txt": "мир\nмост\n"}}
	src := NewS3SourceWithClient(client, "dictionaries")
	assert.Equal(t, "s3://dictionaries", src.Name())

	l := NewLoader(src, &Config{Prefix: "dict/", Logger: utils.NopLogger()})
	got, err := l.Load(context.Background(), "м")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())

	_, err = l.Load(context.Background(), "ж")
	assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodePartitionNotFound)), "got %v", err)

	client.err = fmt.Errorf("connection reset")
	_, err = l.Load(context.Background(), "м")
	assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodePartitionLoadFailed)), "got %v", err)
}

func TestNewS3Source_RetryAttempts(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		want       int
	}{
		{name: "sdk default", maxRetries: 0, want: 3},
		{name: "loader retries instead", maxRetries: 1, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewS3Source(context.Background(), S3Config{
				Bucket:          "dictionaries",
				Region:          "eu-central-1",
				AccessKeyID:     "key",
				SecretAccessKey: "secret",
				MaxRetries:      tt.maxRetries,
			})
			require.NoError(t, err)
			client, ok := src.client.(*s3.Client)
			require.True(t, ok)
			assert.Equal(t, tt.want, client.Options().RetryMaxAttempts)
		})
	}
}

func TestNewS3Source_RequiresBucket(t *testing.T) {
	_, err := NewS3Source(context.Background(), S3Config{})
	assert.Error(t, err)
}

func TestMinio_NotFoundClassification(t *testing.T) {
	assert.True(t, isMinioNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isMinioNotFound(minio.ErrorResponse{Code: "NotFound"}))
	assert.False(t, isMinioNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isMinioNotFound(fmt.Errorf("dial tcp: refused")))
}

func TestNewMinioSource_Validation(t *testing.T) {
	_, err := NewMinioSource(MinioConfig{Bucket: "dict"})
	assert.Error(t, err)
	_, err = NewMinioSource(MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	src, err := NewMinioSource(MinioConfig{Endpoint: "localhost:9000", Bucket: "dict"})
	require.NoError(t, err)
	assert.Equal(t, "minio://localhost:9000/dict", src.Name())
}

func TestWarm(t *testing.T) {
	c := cache.NewPartitionCache(&cache.CacheConfig{MaxSize: 10, Logger: utils.NopLogger()})
	c.Set("о", types.NewWordSet("окно"))

	var mu sync.Mutex
	calls := map[types.PartitionKey]int{}
	load := func(ctx context.Context, key types.PartitionKey) (types.WordSet, error) {
		mu.Lock()
		calls[key]++
		mu.Unlock()
		if key == "т" {
			return types.WordSet{}, errors.NewError(errors.ErrCodePartitionNotFound, "missing")
		}
		return types.NewWordSet(string(key) + "слово"), nil
	}

	keys := []types.PartitionKey{"п", "с", "к", "о", "т", "н"}
	result, err := Warm(context.Background(), load, c, keys, 2, utils.NopLogger())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodePartitionNotFound)))
	assert.Equal(t, WarmResult{Loaded: 4, Failed: 1}, result)
	assert.Equal(t, 0, calls["о"], "cached partitions are not reloaded")
	for _, key := range []types.PartitionKey{"п", "с", "к", "н"} {
		assert.True(t, c.Has(key))
	}
	assert.False(t, c.Has("т"))
}

type flakySource struct {
	mu       sync.Mutex
	failures int
	opens    int
	body     string
}

func (s *flakySource) Name() string { return "flaky" }

func (s *flakySource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.opens <= s.failures {
		return nil, fmt.Errorf("connection reset by peer")
	}
	return io.NopCloser(bytes.NewBufferString(s.body)), nil
}

// brokenBody returns prefix, then fails like a reset connection
type brokenBody struct {
	prefix []byte
	served bool
}

func (b *brokenBody) Read(p []byte) (int, error) {
	if b.served {
		return 0, fmt.Errorf("read tcp: connection reset by peer")
	}
	b.served = true
	return copy(p, b.prefix), nil
}

// resettingSource serves the first part of body, cut short, for the first resets opens
type resettingSource struct {
	mu     sync.Mutex
	resets int
	opens  int
	body   []byte
}

func newResettingSource(t *testing.T, resets int, name string) *resettingSource {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WritePartition(&buf, name, []string{"дом", "дуб"}))
	return &resettingSource{resets: resets, body: buf.Bytes()}
}

func (s *resettingSource) Name() string { return "resetting" }

func (s *resettingSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.opens <= s.resets {
		return io.NopCloser(&brokenBody{prefix: s.body[:12]}), nil
	}
	return io.NopCloser(bytes.NewReader(s.body)), nil
}

func TestLoader_MidStreamReadFailure(t *testing.T) {
	t.Run("is a load failure, not corruption", func(t *testing.T) {
		l := NewLoader(newResettingSource(t, 1, "д.txt"), &Config{Logger: utils.NopLogger()})
		_, err := l.Load(context.Background(), "д")
		assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodePartitionLoadFailed)), "got %v", err)
	})

	t.Run("compressed body", func(t *testing.T) {
		l := NewLoader(newResettingSource(t, 1, "д.txt.gz"), &Config{Extension: ".txt.gz", Logger: utils.NopLogger()})
		_, err := l.Load(context.Background(), "д")
		assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodePartitionLoadFailed)), "got %v", err)
	})

	t.Run("is retried", func(t *testing.T) {
		policy := retry.DefaultConfig()
		policy.InitialDelay = time.Millisecond
		policy.Jitter = false

		source := newResettingSource(t, 2, "д.txt")
		l := NewLoader(source, &Config{Logger: utils.NopLogger(), Retry: &policy})
		got, err := l.Load(context.Background(), "д")
		require.NoError(t, err)
		assert.Equal(t, []string{"дом", "дуб"}, got.Words())
		assert.Equal(t, 3, source.opens)
	})

	t.Run("counts against the breaker", func(t *testing.T) {
		source := newResettingSource(t, 100, "д.txt")
		breaker := circuit.NewBreaker("resetting", circuit.Config{MaxFailures: 1, Timeout: time.Hour})
		l := NewLoader(NewGuardedSource(source, breaker), &Config{Logger: utils.NopLogger()})

		_, err := l.Load(context.Background(), "д")
		assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodePartitionLoadFailed)), "got %v", err)
		assert.Equal(t, circuit.StateOpen, breaker.GetState())
	})
}

func TestLoader_CorruptBodyIsNotRetried(t *testing.T) {
	policy := retry.DefaultConfig()
	policy.InitialDelay = time.Millisecond

	source := &flakySource{body: "not gzip at all"}
	l := NewLoader(source, &Config{Extension: ".txt.gz", Logger: utils.NopLogger(), Retry: &policy})
	_, err := l.Load(context.Background(), "д")
	assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodePartitionCorrupt)), "got %v", err)
	assert.Equal(t, 1, source.opens)
}

func TestLoader_RetriesTransportFailures(t *testing.T) {
	policy := retry.DefaultConfig()
	policy.InitialDelay = time.Millisecond
	policy.Jitter = false

	source := &flakySource{failures: 2, body: "дом\nдуб\n"}
	l := NewLoader(source, &Config{Logger: utils.NopLogger(), Retry: &policy})

	got, err := l.Load(context.Background(), "д")
	require.NoError(t, err)
	assert.Equal(t, []string{"дом", "дуб"}, got.Words())
	assert.Equal(t, 3, source.opens)
}

func TestLoader_NoRetryWithoutPolicy(t *testing.T) {
	source := &flakySource{failures: 1, body: "дом\n"}
	l := NewLoader(source, &Config{Logger: utils.NopLogger()})

	_, err := l.Load(context.Background(), "д")
	assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodePartitionLoadFailed)), "got %v", err)
	assert.Equal(t, 1, source.opens)
}

func TestLoader_DoesNotRetryMissingPartitions(t *testing.T) {
	policy := retry.DefaultConfig()
	policy.InitialDelay = time.Millisecond

	l := NewLoader(NewFileSource(t.TempDir()), &Config{Logger: utils.NopLogger(), Retry: &policy})
	_, err := l.Load(context.Background(), "я")
	assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodePartitionNotFound)), "got %v", err)
}

func TestGuardedSource_OpensBreakerOnTransportFailures(t *testing.T) {
	source := &flakySource{failures: 100, body: "дом\n"}
	breaker := circuit.NewBreaker("flaky", circuit.Config{MaxFailures: 2, Timeout: time.Hour})
	l := NewLoader(NewGuardedSource(source, breaker), &Config{Logger: utils.NopLogger()})

	for i := 0; i < 4; i++ {
		_, err := l.Load(context.Background(), "д")
		require.Error(t, err)
	}

	assert.Equal(t, circuit.StateOpen, breaker.GetState())
	assert.Equal(t, 2, source.opens, "opens after the breaker tripped should be rejected")
	assert.Equal(t, "flaky", NewGuardedSource(source, breaker).Name())
}

func TestGuardedSource_OpenBreakerFailsFastUnderRetry(t *testing.T) {
	policy := retry.DefaultConfig()
	policy.InitialDelay = 50 * time.Millisecond
	policy.Jitter = false

	source := &flakySource{failures: 100, body: "дом\n"}
	breaker := circuit.NewBreaker("flaky", circuit.Config{MaxFailures: 1, Timeout: time.Hour})
	l := NewLoader(NewGuardedSource(source, breaker), &Config{Logger: utils.NopLogger(), Retry: &policy})

	// the first load trips the breaker on its first attempt
	_, err := l.Load(context.Background(), "д")
	require.Error(t, err)
	require.Equal(t, circuit.StateOpen, breaker.GetState())
	require.Equal(t, 1, source.opens)

	start := time.Now()
	_, err = l.Load(context.Background(), "д")
	elapsed := time.Since(start)

	assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodeSourceUnavailable)), "got %v", err)
	assert.Less(t, elapsed, policy.InitialDelay, "rejection should not wait for a retry")
	assert.Equal(t, 1, source.opens)
}

func TestGuardedSource_PassesThroughMissingPartitions(t *testing.T) {
	breaker := circuit.NewBreaker("file", circuit.Config{MaxFailures: 1})
	l := NewLoader(NewGuardedSource(NewFileSource(t.TempDir()), breaker), &Config{Logger: utils.NopLogger()})

	for i := 0; i < 3; i++ {
		_, err := l.Load(context.Background(), "я")
		assert.True(t, errors.Is(err, errors.Sentinel(errors.ErrCodePartitionNotFound)), "got %v", err)
	}
	assert.Equal(t, circuit.StateClosed, breaker.GetState())
}
