package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/fetchpool/internal/utils"
)

// Source opens a streaming reader for a URL. Implementations must reject
// unsuccessful responses before any body bytes are returned.
type Source interface {
	Open(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Worker executes one job at a time: stream the resource into a temporary
// file and rename it over outputDir/filename once fully written.
type Worker struct {
	outputDir   string
	chunkSize   int
	idleTimeout time.Duration
	sources     map[string]Source
}

type Option func(*Worker)

func WithChunkSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.chunkSize = n
		}
	}
}

// WithIdleTimeout fails a job once no data has arrived for d. A slow
// transfer that keeps making progress is never cut off.
func WithIdleTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.idleTimeout = d
		}
	}
}

// WithSource registers src for a URL scheme, replacing any existing one.
func WithSource(scheme string, src Source) Option {
	return func(w *Worker) {
		w.sources[strings.ToLower(scheme)] = src
	}
}

func NewWorker(outputDir string, client utils.HTTPDoer, opts ...Option) *Worker {
	httpSource := NewHTTPSource(client)
	w := &Worker{
		outputDir:   outputDir,
		chunkSize:   utils.DefaultChunkSize,
		idleTimeout: utils.DefaultTimeout,
		sources: map[string]Source{
			"http":  httpSource,
			"https": httpSource,
			"s3":    NewS3Source("", ""),
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Fetch performs a single attempt for job and returns the number of bytes
// written. The destination is only replaced after a complete transfer; the
// temporary file is removed on any failure.
func (w *Worker) Fetch(ctx context.Context, executionID string, job utils.Job) (int64, error) {
	finalPath := filepath.Join(w.outputDir, job.Filename)
	if err := validateFilename(job.Filename); err != nil {
		return 0, &utils.LocalIOError{Path: finalPath, Err: err}
	}
	src, err := w.sourceFor(job.URL)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	idle := time.AfterFunc(w.idleTimeout, func() { cancel(errIdle) })
	defer idle.Stop()

	body, err := src.Open(ctx, job.URL)
	if err != nil {
		if errors.Is(context.Cause(ctx), errIdle) {
			return 0, &utils.NetworkError{URL: job.URL, Err: fmt.Errorf("no response within %s: %w", w.idleTimeout, errIdle)}
		}
		return 0, err
	}
	defer body.Close()

	tempDir := utils.TempDir(w.outputDir)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return 0, &utils.LocalIOError{Path: tempDir, Err: err}
	}
	tempPath := filepath.Join(tempDir, fmt.Sprintf("%s.%s.part", job.Filename, executionID))
	outFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, &utils.LocalIOError{Path: tempPath, Err: err}
	}
	success := false
	defer func() {
		if !success {
			outFile.Close()
			if rmErr := os.Remove(tempPath); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warn().Str("op", "fetch/worker").Err(rmErr).Msgf("could not remove partial file %s", tempPath)
			}
		}
	}()

	written, err := w.stream(ctx, idle, body, outFile, job.URL, tempPath)
	if err != nil {
		return written, err
	}
	if err := outFile.Sync(); err != nil {
		return written, &utils.LocalIOError{Path: tempPath, Err: err}
	}
	if err := outFile.Close(); err != nil {
		return written, &utils.LocalIOError{Path: tempPath, Err: err}
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return written, &utils.LocalIOError{Path: finalPath, Err: err}
	}
	success = true
	log.Debug().Str("op", "fetch/worker").Str("exec", executionID).Int64("bytes", written).Msgf("saved %s", finalPath)
	return written, nil
}

var errIdle = errors.New("transfer stalled")

// stream copies body to out chunk by chunk, pushing the idle deadline back
// after every read that returned data.
func (w *Worker) stream(ctx context.Context, idle *time.Timer, body io.Reader, out io.Writer, rawURL, path string) (int64, error) {
	buffer := make([]byte, w.chunkSize)
	var written int64
	for {
		bytesRead, readErr := body.Read(buffer)
		if bytesRead > 0 {
			idle.Reset(w.idleTimeout)
			if _, writeErr := out.Write(buffer[:bytesRead]); writeErr != nil {
				return written, &utils.LocalIOError{Path: path, Err: writeErr}
			}
			written += int64(bytesRead)
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			if errors.Is(context.Cause(ctx), errIdle) {
				return written, &utils.NetworkError{URL: rawURL, Err: fmt.Errorf("no data for %s after %d bytes: %w", w.idleTimeout, written, errIdle)}
			}
			return written, &utils.NetworkError{URL: rawURL, Err: fmt.Errorf("error reading response body: %w", readErr)}
		}
	}
}

func (w *Worker) sourceFor(rawURL string) (Source, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &utils.NetworkError{URL: rawURL, Err: err}
	}
	src, ok := w.sources[strings.ToLower(parsed.Scheme)]
	if !ok {
		return nil, &utils.NetworkError{URL: rawURL, Err: fmt.Errorf("%w: %q", utils.ErrUnsupportedScheme, parsed.Scheme)}
	}
	return src, nil
}

var errInvalidFilename = errors.New("filename must be a plain name inside the output directory")

func validateFilename(name string) error {
	if name == "" || name == "." || name == ".." || name == utils.TempDirName {
		return errInvalidFilename
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return errInvalidFilename
	}
	return nil
}
