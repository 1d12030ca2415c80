package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

func TestResolverPriorityOrder(t *testing.T) {
	tests := []struct {
		name   string
		r      *Resolver
		want   string
		source Source
	}{
		{
			name: "cli argument wins over everything",
			r: &Resolver{
				CLIArg:     "cli-key",
				Env:        func(string) string { return "env-key" },
				ProjectCfg: func(string) string { return "project-key" },
			},
			want:   "cli-key",
			source: SourceCLI,
		},
		{
			name: "env wins over project and global config",
			r: &Resolver{
				Env:        func(string) string { return "env-key" },
				ProjectCfg: func(string) string { return "project-key" },
				GlobalCfg:  func(string) string { return "global-key" },
			},
			want:   "env-key",
			source: SourceEnv,
		},
		{
			name: "project config wins over global config",
			r: &Resolver{
				Env:        func(string) string { return "" },
				ProjectCfg: func(string) string { return "project-key" },
				GlobalCfg:  func(string) string { return "global-key" },
			},
			want:   "project-key",
			source: SourceProject,
		},
		{
			name: "global config wins over auto-import",
			r: &Resolver{
				Env:        func(string) string { return "" },
				GlobalCfg: func(string) string { return "global-key" },
				AutoImport: stubImporter{key: "imported-key", ok: true},
			},
			want:   "global-key",
			source: SourceGlobal,
		},
		{
			name: "auto-import wins over keychain",
			r: &Resolver{
				Env:        func(string) string { return "" },
				AutoImport: stubImporter{key: "imported-key", ok: true},
				Keychain:   stubKeychain{key: "keychain-key", ok: true},
			},
			want:   "imported-key",
			source: SourceAutoImport,
		},
		{
			name: "keychain wins over oauth token",
			r: &Resolver{
				Env:         func(string) string { return "" },
				Keychain:    stubKeychain{key: "keychain-key", ok: true},
				OAuthTokens: OAuthTokenStore{Path: "/nonexistent/path"},
			},
			want:   "keychain-key",
			source: SourceKeychain,
		},
		{
			name: "default when nothing resolves",
			r: &Resolver{
				Env:          func(string) string { return "" },
				OAuthTokens:  OAuthTokenStore{Path: "/nonexistent/path"},
				DefaultValue: "fallback-key",
			},
			want:   "fallback-key",
			source: SourceDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.r.Resolve(context.Background(), "anthropic")
			if got.Key != tt.want {
				t.Errorf("Key = %q, want %q", got.Key, tt.want)
			}
			if got.Source != tt.source {
				t.Errorf("Source = %q, want %q", got.Source, tt.source)
			}
		})
	}
}

func TestOAuthTokenStoreValidRejectsExpiredWithoutRefreshConfig(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/tokens.json"

	expired := mustSignToken(t, time.Now().Add(-time.Hour))
	writeTokenFile(t, path, "anthropic", expired, "")

	store := OAuthTokenStore{Path: path}
	if _, ok := store.Valid(context.Background(), "anthropic"); ok {
		t.Fatal("expected expired token with no refresh config to be rejected")
	}
}

func TestOAuthTokenStoreValidAcceptsUnexpired(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/tokens.json"

	fresh := mustSignToken(t, time.Now().Add(time.Hour))
	writeTokenFile(t, path, "anthropic", fresh, "")

	store := OAuthTokenStore{Path: path}
	token, ok := store.Valid(context.Background(), "anthropic")
	if !ok || token != fresh {
		t.Fatalf("Valid() = %q, %v; want signed token, true", token, ok)
	}
}

func TestOAuthTokenStoreValidAcceptsOpaqueUnexpiredToken(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/tokens.json"
	writeTokenFile(t, path, "anthropic", "opaque-bearer-token", "")

	store := OAuthTokenStore{Path: path}
	token, ok := store.Valid(context.Background(), "anthropic")
	if !ok || token != "opaque-bearer-token" {
		t.Fatalf("Valid() = %q, %v; want opaque token, true", token, ok)
	}
}

func TestOAuthTokenStoreRefreshesExpiredToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"refreshed-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	path := dir + "/tokens.json"
	expired := mustSignToken(t, time.Now().Add(-time.Hour))
	writeTokenFile(t, path, "anthropic", expired, "refresh-token-value")

	store := OAuthTokenStore{
		Path: path,
		RefreshConfigs: map[string]oauth2.Config{
			"anthropic": {
				ClientID:     "client-id",
				ClientSecret: "client-secret",
				Endpoint:     oauth2.Endpoint{TokenURL: server.URL},
			},
		},
	}

	token, ok := store.Valid(context.Background(), "anthropic")
	if !ok || token != "refreshed-token" {
		t.Fatalf("Valid() = %q, %v; want refreshed-token, true", token, ok)
	}
}

type stubImporter struct {
	key string
	ok  bool
}

func (s stubImporter) Import(string) (string, bool) { return s.key, s.ok }

type stubKeychain struct {
	key string
	ok  bool
}

func (s stubKeychain) Get(string) (string, bool) { return s.key, s.ok }

func mustSignToken(t *testing.T, expiry time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": expiry.Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func writeTokenFile(t *testing.T, path, provider, accessToken, refreshToken string) {
	t.Helper()
	tokens := map[string]storedToken{
		provider: {AccessToken: accessToken, RefreshToken: refreshToken},
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		t.Fatalf("marshal token file: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}
}
