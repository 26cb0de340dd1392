package masterkey

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
)

type stubFetcher struct {
	secrets map[string]string
	calls   int
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls++
	secret, ok := f.secrets[url]
	if !ok {
		return nil, failures.NewValidationError("unreachable")
	}
	return []byte(secret), nil
}

func TestBootstrapSecret_Validate(t *testing.T) {
	tests := []struct {
		name    string
		secret  BootstrapSecret
		wantErr bool
	}{
		{"inline", BootstrapSecret{Inline: []byte("s")}, false},
		{"https", BootstrapSecret{URL: "https://vault/secret"}, false},
		{"http", BootstrapSecret{URL: "http://vault/secret"}, false},
		{"both", BootstrapSecret{Inline: []byte("s"), URL: "https://vault"}, true},
		{"neither", BootstrapSecret{}, true},
		{"file scheme", BootstrapSecret{URL: "file:///etc/secret"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.secret.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !failures.IsValidationError(err) {
				t.Errorf("Expected ValidationError, got %T", err)
			}
		})
	}
}

func TestHTTPSecretFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/secret":
			w.Write([]byte("fetched-secret"))
		case "/empty":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	fetcher := NewHTTPSecretFetcher(5 * time.Second)
	ctx := context.Background()

	secret, err := fetcher.Fetch(ctx, server.URL+"/secret")
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if string(secret) != "fetched-secret" {
		t.Errorf("Fetch() = %q", secret)
	}

	if _, err := fetcher.Fetch(ctx, server.URL+"/missing"); err == nil {
		t.Error("Expected an error for a 404 response")
	} else if strings.Contains(err.Error(), server.URL) {
		t.Error("Error must not contain the URL")
	}

	if _, err := fetcher.Fetch(ctx, server.URL+"/empty"); err == nil {
		t.Error("Expected an error for an empty body")
	}
}

func TestBootstrapper_RememberAndStartup(t *testing.T) {
	repo, cleanup := setupTestSettingsRepo(t)
	defer cleanup()

	ctx := context.Background()
	fetcher := &stubFetcher{secrets: map[string]string{"https://vault/s": "remote"}}
	bootstrapper := NewBootstrapper(nil, fetcher, repo)

	raw, provenance, err := bootstrapper.Startup(ctx, []byte("default"))
	if err != nil || string(raw) != "default" || provenance != ProvenanceDefault {
		t.Fatalf("Startup() = %q, %s, %v", raw, provenance, err)
	}

	if _, _, err := bootstrapper.Startup(ctx, nil); !failures.IsValidationError(err) {
		t.Errorf("Startup() without a default should fail, got %v", err)
	}

	if err := bootstrapper.Remember(ctx, BootstrapSecret{URL: "https://vault/s"}); err != nil {
		t.Fatalf("Remember() failed: %v", err)
	}
	raw, provenance, err = bootstrapper.Startup(ctx, []byte("default"))
	if err != nil || string(raw) != "remote" || provenance != ProvenanceURL {
		t.Errorf("Startup() after remembering a URL = %q, %s, %v", raw, provenance, err)
	}

	if err := bootstrapper.Remember(ctx, BootstrapSecret{Inline: []byte("inline")}); err != nil {
		t.Fatalf("Remember() failed: %v", err)
	}
	if _, ok, _ := repo.Get(ctx, SettingBootstrapURL); ok {
		t.Error("An inline secret should clear the remembered URL")
	}
}

func TestBootstrapper_Resolve(t *testing.T) {
	fetcher := &stubFetcher{secrets: map[string]string{"https://vault/s": "remote"}}
	bootstrapper := NewBootstrapper(nil, fetcher, nil)
	ctx := context.Background()

	inline := []byte("inline")
	raw, provenance, err := bootstrapper.Resolve(ctx, BootstrapSecret{Inline: inline})
	if err != nil || provenance != ProvenanceInline {
		t.Fatalf("Resolve() = %s, %v", provenance, err)
	}
	raw[0] = 'X'
	if string(inline) != "inline" {
		t.Error("Resolve() must return a copy of the inline secret")
	}

	raw, provenance, err = bootstrapper.Resolve(ctx, BootstrapSecret{URL: "https://vault/s"})
	if err != nil || string(raw) != "remote" || provenance != ProvenanceURL {
		t.Errorf("Resolve() = %q, %s, %v", raw, provenance, err)
	}

	if _, _, err := bootstrapper.Resolve(ctx, BootstrapSecret{URL: "https://vault/unknown"}); err == nil {
		t.Error("Expected fetch failure")
	}
}
