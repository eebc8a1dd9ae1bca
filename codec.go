package shelf

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// Algorithm is a streaming compression primitive. Close on a writer flushes
// final content; neither Close affects the wrapped Reader or Writer.
type Algorithm interface {
	Name() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// AlgorithmNone disables compression when used as the configured algorithm.
const AlgorithmNone = "none"

var (
	algorithmsMu sync.RWMutex
	algorithms   = map[string]Algorithm{
		"gzip":   gzipAlgorithm{},
		"snappy": snappyAlgorithm{},
	}
)

// RegisterAlgorithm makes an algorithm available by name for configuration
// and for decoding envelopes written with it.
func RegisterAlgorithm(alg Algorithm) {
	algorithmsMu.Lock()
	defer algorithmsMu.Unlock()
	algorithms[alg.Name()] = alg
}

// AlgorithmByName returns a registered algorithm. zstd is only registered
// when the package is built without the nozstd tag.
func AlgorithmByName(name string) (Algorithm, bool) {
	algorithmsMu.RLock()
	defer algorithmsMu.RUnlock()
	alg, ok := algorithms[name]
	return alg, ok
}

// Algorithms lists registered algorithm names.
func Algorithms() []string {
	algorithmsMu.RLock()
	defer algorithmsMu.RUnlock()
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// knownAlgorithm accepts names that are valid in configuration even when the
// algorithm is not compiled in; such a configuration falls back to storing
// payloads uncompressed.
func knownAlgorithm(name string) bool {
	switch name {
	case "gzip", "snappy", "zstd", AlgorithmNone:
		return true
	}
	_, ok := AlgorithmByName(name)
	return ok
}

type gzipAlgorithm struct{}

func (gzipAlgorithm) Name() string { return "gzip" }
func (gzipAlgorithm) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}
func (gzipAlgorithm) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type snappyAlgorithm struct{}

func (snappyAlgorithm) Name() string { return "snappy" }
func (snappyAlgorithm) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}
func (snappyAlgorithm) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(r)), nil
}

// unavailableAlgorithm stands in for a configured algorithm that is not
// compiled in. Every save through it falls back to uncompressed storage.
type unavailableAlgorithm struct{ name string }

func (u unavailableAlgorithm) Name() string { return u.name }
func (u unavailableAlgorithm) NewWriter(io.Writer) (io.WriteCloser, error) {
	return nil, fmt.Errorf("%s was not enabled at compile time", u.name)
}
func (u unavailableAlgorithm) NewReader(io.Reader) (io.ReadCloser, error) {
	return nil, fmt.Errorf("%s was not enabled at compile time", u.name)
}

// Envelope is the persisted wrapper around a serialized record.
type Envelope struct {
	Compressed     bool   `json:"compressed"`
	Algorithm      string `json:"algorithm,omitempty"`
	OriginalSize   int    `json:"originalSize"`
	CompressedSize int    `json:"compressedSize"`
	Payload        []byte `json:"payload"`
	StoredAt       int64  `json:"storedAt"`
	Revision       uint64 `json:"revision"`
}

// Codec applies size-gated compression to serialized records.
type Codec struct {
	// Threshold is the largest payload stored uncompressed.
	Threshold int

	// Algorithm compresses payloads above Threshold. Nil stores everything
	// uncompressed.
	Algorithm Algorithm

	logger  Logger
	metrics Metrics
}

// NewCodec creates a codec.
func NewCodec(threshold int, alg Algorithm, logger Logger, metrics Metrics) *Codec {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Codec{
		Threshold: threshold,
		Algorithm: alg,
		logger:    logger,
		metrics:   metrics,
	}
}

// Compress wraps payload in an envelope, compressing it when it is larger
// than Threshold. It never fails: when the algorithm is unavailable or
// errors, the payload is stored verbatim.
func (c *Codec) Compress(payload []byte) Envelope {
	env := Envelope{
		OriginalSize:   len(payload),
		CompressedSize: len(payload),
		Payload:        payload,
	}
	if len(payload) <= c.Threshold || c.Algorithm == nil {
		return env
	}

	compressed, err := c.compress(payload)
	if err != nil {
		c.logger.Warn("compression failed, storing uncompressed",
			"algorithm", c.Algorithm.Name(),
			"size", len(payload),
			"error", err)
		c.metrics.Increment(MetricCodecFallback, "algorithm", c.Algorithm.Name())
		return env
	}

	env.Compressed = true
	env.Algorithm = c.Algorithm.Name()
	env.CompressedSize = len(compressed)
	env.Payload = compressed

	c.metrics.Increment(MetricCodecCompressed, "algorithm", env.Algorithm)
	c.metrics.Histogram(MetricCodecRatio, float64(env.CompressedSize)/float64(env.OriginalSize),
		"algorithm", env.Algorithm)
	return env
}

func (c *Codec) compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.Algorithm.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress returns the serialized record held by env.
func (c *Codec) Decompress(env Envelope) ([]byte, error) {
	if !env.Compressed {
		return env.Payload, nil
	}

	alg, ok := c.algorithmFor(env.Algorithm)
	if !ok {
		return nil, WithContext(ErrCompression, map[string]interface{}{
			"algorithm": env.Algorithm,
			"reason":    "algorithm not available",
		})
	}

	r, err := alg.NewReader(bytes.NewReader(env.Payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompression, err)
	}
	defer r.Close()

	out := bytes.NewBuffer(make([]byte, 0, env.OriginalSize))
	if _, err := io.Copy(out, r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompression, err)
	}
	return out.Bytes(), nil
}

func (c *Codec) algorithmFor(name string) (Algorithm, bool) {
	if c.Algorithm != nil && c.Algorithm.Name() == name {
		if _, unavailable := c.Algorithm.(unavailableAlgorithm); !unavailable {
			return c.Algorithm, true
		}
	}
	return AlgorithmByName(name)
}

// resolveAlgorithm maps configuration to the algorithm a codec uses.
func resolveAlgorithm(cfg Config, logger Logger) Algorithm {
	if !cfg.Compression() || cfg.CompressionAlgorithm == AlgorithmNone {
		return nil
	}
	if alg, ok := AlgorithmByName(cfg.CompressionAlgorithm); ok {
		return alg
	}
	logger.Warn("compression algorithm unavailable, payloads will be stored uncompressed",
		"algorithm", cfg.CompressionAlgorithm,
		"available", Algorithms())
	return unavailableAlgorithm{name: cfg.CompressionAlgorithm}
}
