// Package fetcher resolves a document reference to its extracted text.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"policy-rag/internal/config"
	"policy-rag/internal/models"
	"policy-rag/internal/parser"
	"policy-rag/internal/retry"
)

const userAgent = "policy-rag/1.0"

// Fetcher downloads or reads a document and extracts its text.
// A reference is an http(s) URL or the document text itself. file:// URLs and
// local paths are only read when local files are enabled.
type Fetcher struct {
	client     *http.Client
	maxBytes   int64
	policy     retry.Policy
	localFiles bool
}

type Option func(*Fetcher)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithRetryPolicy retries transient download failures
func WithRetryPolicy(p retry.Policy) Option {
	return func(f *Fetcher) { f.policy = p }
}

// WithLocalFiles lets file:// URLs and existing paths be read from disk
func WithLocalFiles() Option {
	return func(f *Fetcher) { f.localFiles = true }
}

func New(cfg config.FetchConfig, opts ...Option) *Fetcher {
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	f := &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: cfg.MaxBytes,
		policy:   retry.Policy{MaxAttempts: 1},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAndExtract returns the raw text of the referenced document and its type
func (f *Fetcher) FetchAndExtract(ctx context.Context, ref string) (string, models.DocumentType, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("%w: empty document reference", models.ErrInvalidInput)
	}

	if u, err := url.Parse(ref); err == nil && !strings.ContainsAny(ref, " \n") {
		switch u.Scheme {
		case "http", "https":
			return f.fetchURL(ctx, u)
		case "file":
			if !f.localFiles {
				return "", "", fmt.Errorf("%w: file references are not allowed", models.ErrInvalidInput)
			}
			return f.readFile(u.Path)
		}
	}
	if f.localFiles && isLocalFile(ref) {
		return f.readFile(ref)
	}

	log.Debug().Int("chars", len(ref)).Msg("Using reference as inline document text")
	return ref, models.DocumentTypeText, nil
}

type download struct {
	body        []byte
	contentType string
}

func (f *Fetcher) fetchURL(ctx context.Context, u *url.URL) (string, models.DocumentType, error) {
	log.Debug().Str("url", u.Redacted()).Msg("Downloading document")

	d, err := retry.Do(ctx, f.policy, "fetch document", func(ctx context.Context) (download, error) {
		return f.get(ctx, u.String())
	})
	if err != nil {
		if errors.Is(err, models.ErrDocumentFetch) {
			return "", "", err
		}
		return "", "", fmt.Errorf("%w: %s: %v", models.ErrDocumentFetch, u.Redacted(), err)
	}

	return parser.Parse(path.Base(u.Path), d.contentType, d.body)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return download{}, retry.Permanent(fmt.Errorf("%w: %v", models.ErrDocumentFetch, err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return download{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: unexpected status %d", models.ErrDocumentFetch, resp.StatusCode)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return download{}, retry.Permanent(err)
		}
		return download{}, err
	}

	body, err := f.readLimited(resp.Body)
	if err != nil {
		return download{}, err
	}
	return download{body: body, contentType: resp.Header.Get("Content-Type")}, nil
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	if f.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBytes {
		return nil, retry.Permanent(fmt.Errorf("%w: document exceeds %d bytes", models.ErrDocumentFetch, f.maxBytes))
	}
	return body, nil
}

func (f *Fetcher) readFile(name string) (string, models.DocumentType, error) {
	log.Debug().Str("path", name).Msg("Reading document from disk")
	file, err := os.Open(name)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrDocumentFetch, err)
	}
	defer file.Close()

	body, err := f.readLimited(file)
	if err != nil {
		if errors.Is(err, models.ErrDocumentFetch) {
			return "", "", err
		}
		return "", "", fmt.Errorf("%w: %v", models.ErrDocumentFetch, err)
	}
	return parser.Parse(name, "", body)
}

func isLocalFile(ref string) bool {
	if len(ref) > 4096 || strings.ContainsAny(ref, "\n\r") {
		return false
	}
	info, err := os.Stat(ref)
	return err == nil && info.Mode().IsRegular()
}
