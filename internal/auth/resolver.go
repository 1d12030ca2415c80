// Package auth resolves per-provider LLM credentials from the layered
// sources the CLI draws on: explicit flags, the process environment,
// project and global config files, credentials auto-imported from sibling
// CLI tools, the system keychain, and a cached OAuth token. It does not
// authenticate end users or serve HTTP sessions.
package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Source identifies which tier of the resolution chain produced a key.
type Source string

const (
	SourceCLI        Source = "cli"
	SourceEnv        Source = "env"
	SourceProject    Source = "project_config"
	SourceGlobal     Source = "global_config"
	SourceAutoImport Source = "auto_import"
	SourceKeychain   Source = "keychain"
	SourceOAuth      Source = "oauth_token"
	SourceDefault    Source = "default"
)

// Resolved is the outcome of resolving one provider's credential.
type Resolved struct {
	Key    string
	Source Source
}

var providerEnvVars = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"google":     "GOOGLE_API_KEY",
	"glm":        "GLM_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"azure":      "AZURE_OPENAI_API_KEY",
}

// Keychain abstracts a system credential store. The pack carries no OS
// keychain binding (no Keychain/libsecret/wincred client in go.mod), so
// Resolver falls back to EnvKeychain, which treats a side-channel
// environment variable as the "keychain" tier. A real implementation
// would satisfy this interface with a CGo or D-Bus backed store.
type Keychain interface {
	Get(provider string) (string, bool)
}

// EnvKeychain reads NEXUS_KEYCHAIN_<PROVIDER> as a stand-in for an OS
// keychain entry.
type EnvKeychain struct{}

func (EnvKeychain) Get(provider string) (string, bool) {
	v := os.Getenv("NEXUS_KEYCHAIN_" + strings.ToUpper(provider))
	if v == "" {
		return "", false
	}
	return v, true
}

// AutoImporter locates credentials left behind by other installed CLI
// tools that share a provider (e.g. a coding assistant's own config file).
type AutoImporter interface {
	Import(provider string) (string, bool)
}

// SiblingToolImporter scans a fixed list of known sibling-tool config
// files for an api_key field under the provider's entry in a "providers" map.
type SiblingToolImporter struct {
	// Paths are config files to probe, most-preferred first. Each is
	// expected to be a JSON object with a "providers" map of
	// provider -> {"api_key": "..."}.
	Paths []string
}

// DefaultSiblingToolPaths returns the well-known config locations of
// other CLI coding tools that might already hold a usable API key.
func DefaultSiblingToolPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = "."
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if strings.TrimSpace(configHome) == "" {
		configHome = filepath.Join(home, ".config")
	}
	return []string{
		filepath.Join(configHome, "opencode", "config.json"),
		filepath.Join(home, ".aider.conf.json"),
		filepath.Join(configHome, "goose", "config.json"),
	}
}

type siblingConfigFile struct {
	Providers map[string]struct {
		APIKey string `json:"api_key"`
	} `json:"providers"`
}

func (s SiblingToolImporter) Import(provider string) (string, bool) {
	for _, path := range s.Paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var cfg siblingConfigFile
		if err := json.Unmarshal(data, &cfg); err != nil {
			continue
		}
		if entry, ok := cfg.Providers[provider]; ok && entry.APIKey != "" {
			return entry.APIKey, true
		}
	}
	return "", false
}

// storedToken is the on-disk shape of one provider's cached OAuth grant.
type storedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

func (s storedToken) toOAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		Expiry:       s.Expiry,
	}
}

// OAuthTokenStore reads a cached OAuth token previously obtained for a
// provider. An expired access token is refreshed in-place via the
// provider's oauth2.Config, when one is registered; otherwise it is
// rejected and resolution falls through to the default tier.
type OAuthTokenStore struct {
	// Path is the JSON file holding {"<provider>": {"access_token": ..., ...}}.
	Path string
	// RefreshConfigs maps provider name to the oauth2.Config used to
	// refresh an expired access token via its refresh_token.
	RefreshConfigs map[string]oauth2.Config
}

func (o OAuthTokenStore) load() (map[string]storedToken, error) {
	data, err := os.ReadFile(o.Path)
	if err != nil {
		return nil, err
	}
	var tokens map[string]storedToken
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// DefaultOAuthTokenPath returns the engine's own cached-token location.
func DefaultOAuthTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = "."
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if strings.TrimSpace(configHome) == "" {
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "nexus", "oauth_tokens.json")
}

// Valid reports whether a usable access token exists for provider. If the
// JWT-shaped cached token has expired and a refresh config is registered
// for the provider, it is refreshed via oauth2.Config.TokenSource before
// being offered; a refresh failure or missing config causes the token to
// be rejected rather than silently reused past expiry.
func (o OAuthTokenStore) Valid(ctx context.Context, provider string) (string, bool) {
	tokens, err := o.load()
	if err != nil {
		return "", false
	}
	stored, ok := tokens[provider]
	if !ok || stored.AccessToken == "" {
		return "", false
	}
	if !o.expired(stored) {
		return stored.AccessToken, true
	}
	cfg, ok := o.RefreshConfigs[provider]
	if !ok || stored.RefreshToken == "" {
		return "", false
	}
	refreshed, err := cfg.TokenSource(ctx, stored.toOAuth2()).Token()
	if err != nil || refreshed.AccessToken == "" {
		return "", false
	}
	return refreshed.AccessToken, true
}

// expired reports whether stored's access token is past its expiry, using
// the JWT `exp` claim when the token is JWT-shaped, otherwise the stored
// expiry timestamp.
func (o OAuthTokenStore) expired(stored storedToken) bool {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(stored.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Before(time.Now())
		}
	}
	if stored.Expiry.IsZero() {
		return false
	}
	return stored.Expiry.Before(time.Now())
}

// ConfigLookup is satisfied by a loaded project or global config file;
// it returns the api_key configured for provider, if any.
type ConfigLookup func(provider string) string

// Resolver walks the full credential-resolution chain for a provider.
type Resolver struct {
	CLIArg       string
	Env          func(string) string
	ProjectCfg   ConfigLookup
	GlobalCfg    ConfigLookup
	AutoImport   AutoImporter
	Keychain     Keychain
	OAuthTokens  OAuthTokenStore
	DefaultValue string
}

// NewResolver builds a Resolver with the standard sibling-tool importer
// and env-backed keychain stand-in wired in.
func NewResolver() *Resolver {
	return &Resolver{
		Env:         os.Getenv,
		AutoImport:  SiblingToolImporter{Paths: DefaultSiblingToolPaths()},
		Keychain:    EnvKeychain{},
		OAuthTokens: OAuthTokenStore{Path: DefaultOAuthTokenPath()},
	}
}

// Resolve walks CLI argument, environment, project config, global config,
// auto-import, keychain, OAuth token, then default, returning the first
// tier that yields a non-empty key.
func (r *Resolver) Resolve(ctx context.Context, provider string) Resolved {
	if r.CLIArg != "" {
		return Resolved{Key: r.CLIArg, Source: SourceCLI}
	}
	if r.Env != nil {
		if envVar := providerEnvVars[provider]; envVar != "" {
			if v := r.Env(envVar); v != "" {
				return Resolved{Key: v, Source: SourceEnv}
			}
		}
	}
	if r.ProjectCfg != nil {
		if v := r.ProjectCfg(provider); v != "" {
			return Resolved{Key: v, Source: SourceProject}
		}
	}
	if r.GlobalCfg != nil {
		if v := r.GlobalCfg(provider); v != "" {
			return Resolved{Key: v, Source: SourceGlobal}
		}
	}
	if r.AutoImport != nil {
		if v, ok := r.AutoImport.Import(provider); ok {
			return Resolved{Key: v, Source: SourceAutoImport}
		}
	}
	if r.Keychain != nil {
		if v, ok := r.Keychain.Get(provider); ok {
			return Resolved{Key: v, Source: SourceKeychain}
		}
	}
	if v, ok := r.OAuthTokens.Valid(ctx, provider); ok {
		return Resolved{Key: v, Source: SourceOAuth}
	}
	return Resolved{Key: r.DefaultValue, Source: SourceDefault}
}
