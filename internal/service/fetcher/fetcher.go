package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/ucb-deployer/internal/archive"
	"github.com/oshokin/ucb-deployer/internal/domain/build"
	"github.com/oshokin/ucb-deployer/internal/logger"
	"github.com/oshokin/ucb-deployer/internal/version"
)

const (
	// ArtifactFilename is the downloaded zip inside a staging directory.
	ArtifactFilename = "artifact.zip"
	// ExtractedDirname holds the unpacked artifact inside a staging directory.
	ExtractedDirname = "extracted"

	defaultTimeout   = 30 * time.Minute
	defaultChunkSize = 1 << 20
	dirPermissions   = 0o755
	filePermissions  = 0o644
)

var (
	// ErrStagingCollision is returned when the staging directory already exists.
	ErrStagingCollision = errors.New("staging directory already exists")
	// ErrDownloadFailed covers transport errors, non-2xx answers and timeouts.
	ErrDownloadFailed = errors.New("artifact download failed")
	// ErrExtractFailed covers undecodable or unsafe archives.
	ErrExtractFailed = errors.New("artifact extraction failed")

	errBadHTTPStatus = errors.New("unexpected http status")
)

// Options configure a Fetcher.
type Options struct {
	// Root is the staging root, usually "tmp".
	Root string
	// Client performs the download; http.DefaultClient when nil.
	Client *http.Client
	// Timeout bounds a single download.
	Timeout time.Duration
	// ChunkSize is the copy buffer size.
	ChunkSize int
	// Stamper names staging directories; a private one when nil.
	Stamper *build.Stamper
}

// Result describes a completed fetch.
type Result struct {
	// StagingDir is the per-fetch directory; Cleanup removes it.
	StagingDir string
	// ArchivePath is the downloaded zip.
	ArchivePath string
	// ExtractedDir holds the unpacked artifact.
	ExtractedDir string
	// Bytes is the downloaded size.
	Bytes int64
}

// Fetcher downloads and unpacks artifacts.
type Fetcher struct {
	root      string
	client    *http.Client
	timeout   time.Duration
	chunkSize int
	stamper   *build.Stamper
}

// New returns a Fetcher with defaults filled in.
func New(opts Options) *Fetcher {
	f := &Fetcher{
		root:      opts.Root,
		client:    opts.Client,
		timeout:   opts.Timeout,
		chunkSize: opts.ChunkSize,
		stamper:   opts.Stamper,
	}

	if f.client == nil {
		f.client = http.DefaultClient
	}

	if f.timeout <= 0 {
		f.timeout = defaultTimeout
	}

	if f.chunkSize <= 0 {
		f.chunkSize = defaultChunkSize
	}

	if f.stamper == nil {
		f.stamper = build.NewStamper(nil)
	}

	return f
}

// Fetch stages, downloads and extracts the artifact of event.
// On failure the returned Result still names whatever staging directory was
// created so the caller can decide whether to keep it.
func (f *Fetcher) Fetch(ctx context.Context, event build.Event) (Result, error) {
	var result Result

	stagingDir, err := f.createStaging(event)
	if err != nil {
		return result, err
	}

	result.StagingDir = stagingDir
	result.ArchivePath = filepath.Join(stagingDir, ArtifactFilename)

	logger.InfoKV(ctx, "Downloading artifact", "url", event.ArchiveURL, "staging", stagingDir)

	started := time.Now()

	result.Bytes, err = f.download(ctx, event.ArchiveURL, result.ArchivePath)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	logger.InfoKV(ctx, "Artifact downloaded", "bytes", result.Bytes, "duration", time.Since(started))

	started = time.Now()
	extractedDir := filepath.Join(stagingDir, ExtractedDirname)

	files, err := archive.Extract(result.ArchivePath, extractedDir)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrExtractFailed, err)
	}

	result.ExtractedDir = extractedDir

	logger.InfoKV(ctx, "Artifact extracted", "files", files, "duration", time.Since(started))

	return result, nil
}

// Cleanup removes the staging directory of result.
func (f *Fetcher) Cleanup(result Result) error {
	if result.StagingDir == "" {
		return nil
	}

	return os.RemoveAll(result.StagingDir)
}

// createStaging makes the parent directories and then the stamped leaf with
// a plain Mkdir, which fails when the leaf already exists.
func (f *Fetcher) createStaging(event build.Event) (string, error) {
	parent := filepath.Join(f.root, event.ProjectName, event.TargetName)
	if err := os.MkdirAll(parent, dirPermissions); err != nil {
		return "", fmt.Errorf("create staging parent: %w", err)
	}

	dir := filepath.Join(parent, f.stamper.NextString())
	if err := os.Mkdir(dir, dirPermissions); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrStagingCollision, dir)
		}

		return "", fmt.Errorf("create staging: %w", err)
	}

	return dir, nil
}

func (f *Fetcher) download(ctx context.Context, url, dest string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}

	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return 0, fmt.Errorf("%w: %s", errBadHTTPStatus, response.Status)
	}

	out, err := os.OpenFile(filepath.Clean(dest), os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePermissions)
	if err != nil {
		return 0, err
	}

	written, err := io.CopyBuffer(onlyWriter{out}, response.Body, make([]byte, f.chunkSize))
	if err != nil {
		_ = out.Close()

		return written, err
	}

	return written, out.Close()
}

// onlyWriter hides ReadFrom so io.CopyBuffer really uses the fixed buffer.
type onlyWriter struct {
	w io.Writer
}

func (o onlyWriter) Write(p []byte) (int, error) {
	return o.w.Write(p)
}
