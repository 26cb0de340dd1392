package masterkey

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
)

// Provenance records where the current master key secret came from
type Provenance string

const (
	ProvenanceDefault Provenance = "DEFAULT"
	ProvenanceInline  Provenance = "INLINE"
	ProvenanceURL     Provenance = "URL"
)

const maxSecretBytes = 64 * 1024

// BootstrapSecret is the raw secret of an unlock request: inline bytes or a URL to fetch them from
type BootstrapSecret struct {
	Inline []byte
	URL    string
}

func (b BootstrapSecret) validate() error {
	hasInline, hasURL := len(b.Inline) > 0, strings.TrimSpace(b.URL) != ""
	switch {
	case hasInline && hasURL:
		return failures.NewValidationError("provide either a secret or a URL, not both")
	case !hasInline && !hasURL:
		return failures.NewValidationError("a secret or a URL is required")
	case hasURL && !strings.HasPrefix(b.URL, "http://") && !strings.HasPrefix(b.URL, "https://"):
		return failures.NewValidationError("the secret URL must use http or https")
	}
	return nil
}

type SecretFetcher interface {
	// Fetch downloads the secret bytes behind url
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type httpSecretFetcher struct {
	client *http.Client
}

// NewHTTPSecretFetcher creates a fetcher that gives up after timeout. There is no retry.
func NewHTTPSecretFetcher(timeout time.Duration) *httpSecretFetcher {
	return &httpSecretFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *httpSecretFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid secret URL: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch secret: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch secret: unexpected status %d", resp.StatusCode)
	}

	secret, err := io.ReadAll(io.LimitReader(resp.Body, maxSecretBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("failed to fetch secret: empty response")
	}
	return secret, nil
}

// Bootstrapper resolves bootstrap secrets and remembers the URL mode across restarts
type Bootstrapper struct {
	logger   logging.Logger
	fetcher  SecretFetcher
	settings SettingsRepository
}

func NewBootstrapper(logger logging.Logger, fetcher SecretFetcher, settings SettingsRepository) *Bootstrapper {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &Bootstrapper{
		logger:   logger,
		fetcher:  fetcher,
		settings: settings,
	}
}

// Resolve returns the raw secret bytes. The caller owns and wipes them.
func (b *Bootstrapper) Resolve(ctx context.Context, secret BootstrapSecret) ([]byte, Provenance, error) {
	if err := secret.validate(); err != nil {
		return nil, "", err
	}

	if len(secret.Inline) > 0 {
		return append([]byte(nil), secret.Inline...), ProvenanceInline, nil
	}

	raw, err := b.fetcher.Fetch(ctx, secret.URL)
	if err != nil {
		b.logger.Error("Failed to fetch master key secret", "error", err)
		return nil, "", err
	}
	return raw, ProvenanceURL, nil
}

// Remember persists the mode of a secret that unlocked the system: a URL is stored
// so restarts can fetch it again, an inline secret clears any stored URL.
func (b *Bootstrapper) Remember(ctx context.Context, secret BootstrapSecret) error {
	if len(secret.Inline) > 0 {
		return b.settings.Delete(ctx, SettingBootstrapURL)
	}
	return b.settings.Set(ctx, SettingBootstrapURL, secret.URL)
}

// Startup returns the secret the process starts with: the remembered URL if there is
// one, the configured default otherwise.
func (b *Bootstrapper) Startup(ctx context.Context, defaultSecret []byte) ([]byte, Provenance, error) {
	url, ok, err := b.settings.Get(ctx, SettingBootstrapURL)
	if err != nil {
		return nil, "", err
	}
	if ok {
		b.logger.Info("Fetching master key secret from remembered URL")
		raw, err := b.fetcher.Fetch(ctx, url)
		if err != nil {
			return nil, "", err
		}
		return raw, ProvenanceURL, nil
	}

	if len(defaultSecret) == 0 {
		return nil, "", failures.NewValidationError("no default master key secret configured")
	}
	return append([]byte(nil), defaultSecret...), ProvenanceDefault, nil
}
