// Package download fetches the signed envelope and the update bundle over a
// pinned TLS connection.
//
// The HTTP exchange itself runs as a sandboxed operation with only the network
// (and progress) capability. Bundles are checked against the compressed
// digest, decompressed, and checked against the decompressed digest before
// the bytes are handed back.
package download

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ZebulonRouseFrantzich/keel/internal/clock"
	"github.com/ZebulonRouseFrantzich/keel/internal/envelope"
	"github.com/ZebulonRouseFrantzich/keel/internal/logging"
	"github.com/ZebulonRouseFrantzich/keel/internal/sandbox"
	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
	"github.com/ZebulonRouseFrantzich/keel/internal/verify"
)

// OpFetch is the sandboxed fetch operation.
const OpFetch = "fetch"

const (
	// DefaultEnvelopeTimeout bounds the envelope request.
	DefaultEnvelopeTimeout = 15 * time.Second
	// DefaultBundleTimeout bounds the bundle request.
	DefaultBundleTimeout = 10 * time.Minute
	// DefaultMaxEnvelopeSize caps the envelope response.
	DefaultMaxEnvelopeSize = 64 << 10
	// DefaultMaxBundleSize caps the compressed and decompressed bundle.
	DefaultMaxBundleSize = 256 << 20
	// DefaultProgressInterval is the minimum time between progress events.
	DefaultProgressInterval = 250 * time.Millisecond
	// DefaultManifestName is the envelope resource name.
	DefaultManifestName = "manifest.bin"
)

var (
	errTooLarge = errors.New("response exceeds size limit")
)

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// Config configures a Downloader.
type Config struct {
	// Endpoint is the base URL resources are resolved against.
	Endpoint         string
	ManifestName     string
	EnvelopeTimeout  time.Duration
	BundleTimeout    time.Duration
	MaxEnvelopeSize  int64
	MaxBundleSize    int64
	ProgressInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.ManifestName == "" {
		c.ManifestName = DefaultManifestName
	}
	if c.EnvelopeTimeout == 0 {
		c.EnvelopeTimeout = DefaultEnvelopeTimeout
	}
	if c.BundleTimeout == 0 {
		c.BundleTimeout = DefaultBundleTimeout
	}
	if c.MaxEnvelopeSize == 0 {
		c.MaxEnvelopeSize = DefaultMaxEnvelopeSize
	}
	if c.MaxBundleSize == 0 {
		c.MaxBundleSize = DefaultMaxBundleSize
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
}

// BinaryRequest names a bundle and the digests it must match.
type BinaryRequest struct {
	FileName           string
	Checksum           []byte
	ChecksumCompressed []byte
	// ContentLength is the expected decompressed size; zero skips the check.
	ContentLength uint64
	OnProgress    ProgressFunc
}

// Downloader fetches envelopes and bundles.
type Downloader struct {
	cfg      Config
	runner   *sandbox.Runner
	verifier *verify.Verifier
	clock    clock.Clock
	logger   logging.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithClock overrides the clock used for progress timing.
func WithClock(c clock.Clock) Option {
	return func(d *Downloader) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Downloader) { d.logger = logging.OrNop(l) }
}

// New creates a downloader. runner must provide the network capability.
func New(cfg Config, runner *sandbox.Runner, verifier *verify.Verifier, opts ...Option) (*Downloader, error) {
	if runner == nil || verifier == nil {
		return nil, fmt.Errorf("sandbox runner and verifier are required")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid update endpoint %q", cfg.Endpoint)
	}
	cfg.applyDefaults()

	d := &Downloader{
		cfg:      cfg,
		runner:   runner,
		verifier: verifier,
		clock:    clock.Real{},
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if !runner.Registered(OpFetch) {
		if err := runner.Register(OpFetch, fetchOp); err != nil {
			return nil, fmt.Errorf("register %s: %w", OpFetch, err)
		}
	}
	return d, nil
}

// LatestEnvelope fetches and decodes the published envelope.
func (d *Downloader) LatestEnvelope(ctx context.Context) (*envelope.Envelope, error) {
	target, err := url.JoinPath(d.cfg.Endpoint, d.cfg.ManifestName)
	if err != nil {
		return nil, updateerr.Download(updateerr.DownloadTransport, err, "build manifest URL")
	}

	raw, err := d.runner.RunBytes(ctx, sandbox.Request{
		Operation: OpFetch,
		Constants: sandbox.Constants{
			"url":      target,
			"maxBytes": d.cfg.MaxEnvelopeSize,
			"timeout":  d.cfg.EnvelopeTimeout,
		},
		Capabilities: []sandbox.Capability{sandbox.CapNetwork},
	})
	if err != nil {
		return nil, classify(err, "fetch %s", d.cfg.ManifestName)
	}

	return envelope.Decode(raw)
}

// Binary downloads a bundle and returns its decompressed bytes. Nothing is
// returned unless both digests match.
func (d *Downloader) Binary(ctx context.Context, req BinaryRequest) ([]byte, error) {
	target, err := url.JoinPath(d.cfg.Endpoint, req.FileName)
	if err != nil {
		return nil, updateerr.Download(updateerr.DownloadTransport, err, "build bundle URL")
	}

	tracker := newProgressTracker(d.clock, d.cfg.ProgressInterval, req.OnProgress)
	d.logger.Info("downloading bundle", "url", target)

	compressed, err := d.runner.RunBytes(ctx, sandbox.Request{
		Operation: OpFetch,
		Constants: sandbox.Constants{
			"url":      target,
			"maxBytes": d.cfg.MaxBundleSize,
			"timeout":  d.cfg.BundleTimeout,
		},
		Capabilities: []sandbox.Capability{sandbox.CapNetwork, sandbox.CapProgress},
		Progress:     tracker.update,
	})
	if err != nil {
		return nil, classify(err, "fetch %s", req.FileName)
	}
	tracker.finish(int64(len(compressed)))

	if err := d.verifier.VerifyFileIntegrity(ctx, compressed, req.ChecksumCompressed); err != nil {
		return nil, fmt.Errorf("compressed bundle: %w", err)
	}

	content, err := d.decompress(compressed, req.ContentLength)
	if err != nil {
		return nil, err
	}

	if err := d.verifier.VerifyFileIntegrity(ctx, content, req.Checksum); err != nil {
		return nil, fmt.Errorf("decompressed bundle: %w", err)
	}

	d.logger.Info("bundle verified", "file", req.FileName, "bytes", len(content))
	return content, nil
}

func (d *Downloader) decompress(compressed []byte, expected uint64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, updateerr.Download(updateerr.DownloadDecompress, err, "open compressed bundle")
	}
	defer zr.Close()

	content, err := io.ReadAll(io.LimitReader(zr, d.cfg.MaxBundleSize+1))
	if err != nil {
		return nil, updateerr.Download(updateerr.DownloadDecompress, err, "decompress bundle")
	}
	if int64(len(content)) > d.cfg.MaxBundleSize {
		return nil, updateerr.Download(updateerr.DownloadTooLarge, errTooLarge, "decompressed bundle exceeds %d bytes", d.cfg.MaxBundleSize)
	}
	if expected != 0 && uint64(len(content)) != expected {
		return nil, updateerr.Download(updateerr.DownloadDecompress, nil,
			"decompressed bundle is %d bytes, manifest declares %d", len(content), expected)
	}
	return content, nil
}

// fetchOp performs one GET with the granted HTTP client.
func fetchOp(ctx context.Context, env *sandbox.Env) (interface{}, error) {
	client, err := env.HTTPClient()
	if err != nil {
		return nil, err
	}
	target, err := env.String("url")
	if err != nil {
		return nil, err
	}
	maxBytes, err := env.Int64("maxBytes")
	if err != nil {
		return nil, err
	}
	timeout, err := env.Duration("timeout")
	if err != nil {
		return nil, err
	}
	report, err := env.Progress()
	if err != nil {
		report = nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}
	if resp.ContentLength > maxBytes {
		return nil, errTooLarge
	}

	var buf bytes.Buffer
	chunk := make([]byte, 32<<10)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			if int64(buf.Len()+n) > maxBytes {
				return nil, errTooLarge
			}
			buf.Write(chunk[:n])
			if report != nil {
				report(int64(buf.Len()), resp.ContentLength)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read body: %w", readErr)
		}
	}

	return buf.Bytes(), nil
}

// classify maps a fetch failure onto a download subtype.
func classify(err error, format string, args ...interface{}) error {
	if updateerr.KindOf(err) == updateerr.KindSandbox {
		return updateerr.Download(updateerr.DownloadTransport, err, format, args...)
	}

	var (
		status    *statusError
		netErr    net.Error
		certErr   *tls.CertificateVerificationError
		unknownCA x509.UnknownAuthorityError
		hostErr   x509.HostnameError
	)
	switch {
	case errors.As(err, &status):
		return updateerr.Download(updateerr.DownloadStatus, err, format, args...)
	case errors.Is(err, errTooLarge):
		return updateerr.Download(updateerr.DownloadTooLarge, err, format, args...)
	case errors.Is(err, ErrPinMismatch), errors.As(err, &certErr), errors.As(err, &unknownCA), errors.As(err, &hostErr):
		return updateerr.Download(updateerr.DownloadTLS, err, format, args...)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return updateerr.Download(updateerr.DownloadTimeout, err, format, args...)
	default:
		return updateerr.Download(updateerr.DownloadTransport, err, format, args...)
	}
}
