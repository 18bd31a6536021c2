package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/multierr"

	"github.com/krishjainx/bootengine/internal/config"
	"github.com/krishjainx/bootengine/internal/domain/sysext"
	"github.com/krishjainx/bootengine/internal/logger"
)

const (
	// probeAttempts bounds how many times a server is probed before the
	// download is attempted regardless.
	probeAttempts = 30

	// probeInterval is the pause between server probes.
	probeInterval = time.Second

	// downloadAttempts bounds how many times a single file download is
	// retried.
	downloadAttempts = 60

	// downloadWindow bounds the total time spent retrying a single file.
	downloadWindow = 60 * time.Second

	// retryInterval is the pause between download retries.
	retryInterval = time.Second

	// connectTimeout bounds connection establishment, keeping a dead
	// server from stalling a retry loop.
	connectTimeout = 20 * time.Second

	partialFileMode os.FileMode = 0o600
)

var (
	// ErrDownloadFailed means every download candidate was exhausted
	// without producing the artifact.
	ErrDownloadFailed = errors.New("artifact download failed")

	errBadHTTPStatus = errors.New("unexpected http status")
	errNoCandidates  = errors.New("no download candidates")
)

// Result describes a completed download: the image, its detached
// signature, and where they came from.
type Result struct {
	// ImagePath is the downloaded image file.
	ImagePath string
	// SignaturePath is the downloaded detached signature.
	SignaturePath string
	// SHA256 is the hex digest of the image contents.
	SHA256 string
	// Source names the candidate that served the artifact.
	Source string
}

// Fetcher downloads extension images over HTTPS, walking the candidate
// servers in preference order.
type Fetcher struct {
	cfg        *config.Config
	httpClient *http.Client

	probeAttempts    uint
	probeInterval    time.Duration
	downloadAttempts uint
	downloadWindow   time.Duration
	retryInterval    time.Duration
}

// Option configures fetcher behaviour.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client used for probes and downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.httpClient = client
		}
	}
}

// WithProbePolicy overrides how often and how long servers are probed.
func WithProbePolicy(attempts uint, interval time.Duration) Option {
	return func(f *Fetcher) {
		if attempts > 0 {
			f.probeAttempts = attempts
		}

		if interval > 0 {
			f.probeInterval = interval
		}
	}
}

// WithRetryPolicy overrides the per-file download retry budget.
func WithRetryPolicy(attempts uint, window, interval time.Duration) Option {
	return func(f *Fetcher) {
		if attempts > 0 {
			f.downloadAttempts = attempts
		}

		if window > 0 {
			f.downloadWindow = window
		}

		if interval > 0 {
			f.retryInterval = interval
		}
	}
}

// New returns a fetcher for the configured download servers.
func New(cfg *config.Config, opts ...Option) *Fetcher {
	dialer := &net.Dialer{Timeout: connectTimeout}

	f := &Fetcher{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{DialContext: dialer.DialContext},
		},
		probeAttempts:    probeAttempts,
		probeInterval:    probeInterval,
		downloadAttempts: downloadAttempts,
		downloadWindow:   downloadWindow,
		retryInterval:    retryInterval,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch downloads the artifact's image and signature into destDir. It
// tries each candidate server in order and returns ErrDownloadFailed once
// all are exhausted.
func (f *Fetcher) Fetch(ctx context.Context, artifact *sysext.Artifact, destDir string) (*Result, error) {
	return f.fetch(ctx, Candidates(f.cfg, artifact), artifact, destDir)
}

func (f *Fetcher) fetch(
	ctx context.Context,
	candidates []Candidate,
	artifact *sysext.Artifact,
	destDir string,
) (*Result, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%s: %v: %w", artifact.FileName(), errNoCandidates, ErrDownloadFailed)
	}

	var failures error

	for _, candidate := range candidates {
		result, err := f.fetchFrom(ctx, candidate, artifact, destDir)
		if err == nil {
			return result, nil
		}

		logger.WarnKV(ctx, "Download source failed",
			"source", candidate.Source,
			"url", candidate.ImageURL,
			"error", err)

		failures = multierr.Append(failures, fmt.Errorf("%s: %w", candidate.Source, err))

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%s: %v: %w", artifact.FileName(), failures, ErrDownloadFailed)
}

// fetchFrom downloads both files of an artifact from one candidate. The
// image and signature are never mixed across candidates, so any failure
// discards whatever this candidate already delivered.
func (f *Fetcher) fetchFrom(
	ctx context.Context,
	candidate Candidate,
	artifact *sysext.Artifact,
	destDir string,
) (*Result, error) {
	f.probe(ctx, candidate)

	imagePath := filepath.Join(destDir, artifact.FileName())
	signaturePath := imagePath + sysext.SignatureExtension

	digest, err := f.downloadFile(ctx, candidate.ImageURL, imagePath)
	if err != nil {
		discardPartials(imagePath, signaturePath)

		return nil, fmt.Errorf("download image: %w", err)
	}

	if _, err = f.downloadFile(ctx, candidate.SignatureURL, signaturePath); err != nil {
		discardPartials(imagePath, signaturePath)

		return nil, fmt.Errorf("download signature: %w", err)
	}

	return &Result{
		ImagePath:     imagePath,
		SignaturePath: signaturePath,
		SHA256:        digest,
		Source:        candidate.Source,
	}, nil
}

// probe waits until the candidate server reports the image as present. A
// response outside the 2xx range is a failed existence check and keeps
// the loop going, covering objects published moments after boot. The
// result is advisory: exhaustion is logged and the fetch proceeds to the
// download regardless.
func (f *Fetcher) probe(ctx context.Context, candidate Candidate) {
	operation := func() (struct{}, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodHead, candidate.ImageURL, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		response, err := f.httpClient.Do(request)
		if err != nil {
			return struct{}{}, err
		}

		_ = response.Body.Close()

		if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
			return struct{}{}, fmt.Errorf("%s: status %d: %w", candidate.ImageURL, response.StatusCode, errBadHTTPStatus)
		}

		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(f.probeInterval)),
		backoff.WithMaxTries(f.probeAttempts))
	if err != nil {
		logger.WarnKV(ctx, "Image availability not confirmed, attempting download anyway",
			"source", candidate.Source,
			"error", err)
	}
}

// downloadFile fetches one URL into destPath, retrying transient failures
// within the fetcher's retry budget. It returns the hex SHA256 of the
// downloaded contents.
func (f *Fetcher) downloadFile(ctx context.Context, fileURL, destPath string) (string, error) {
	operation := func() (string, error) {
		return f.downloadOnce(ctx, fileURL, destPath)
	}

	notify := func(err error, next time.Duration) {
		logger.DebugKV(ctx, "Retrying download",
			"url", fileURL,
			"delay", next,
			"error", err)
	}

	digest, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(f.retryInterval)),
		backoff.WithMaxTries(f.downloadAttempts),
		backoff.WithMaxElapsedTime(f.downloadWindow),
		backoff.WithNotify(notify))
	if err != nil {
		return "", err
	}

	return digest, nil
}

// downloadOnce performs a single download attempt. Client errors from the
// server are permanent, anything transport-shaped is retryable, and a
// partial file never survives a failed attempt.
func (f *Fetcher) downloadOnce(ctx context.Context, fileURL, destPath string) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}

	response, err := f.httpClient.Do(request)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		err = fmt.Errorf("%s: status %d: %w", fileURL, response.StatusCode, errBadHTTPStatus)
		if response.StatusCode >= http.StatusBadRequest && response.StatusCode < http.StatusInternalServerError {
			return "", backoff.Permanent(err)
		}

		return "", err
	}

	out, err := os.OpenFile(filepath.Clean(destPath), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, partialFileMode)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("create %s: %w", destPath, err))
	}

	hasher := sha256.New()

	if _, err = io.Copy(io.MultiWriter(out, hasher), response.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(destPath)

		return "", fmt.Errorf("stream %s: %w", fileURL, err)
	}

	if err = out.Close(); err != nil {
		_ = os.Remove(destPath)

		return "", fmt.Errorf("close %s: %w", destPath, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// discardPartials removes whatever a failed candidate left behind.
func discardPartials(paths ...string) {
	for _, path := range paths {
		_ = os.Remove(path)
	}
}
