package dataverse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Credentials identifies the Dataverse environment and the app used to
// sign in to it.
type Credentials struct {
	// URL is the environment root, e.g. https://contoso.crm.dynamics.com.
	URL      string
	TenantID string
	ClientID string
	// ClientSecret selects the client-credentials flow. When empty the
	// device code flow is used and the token is cached on disk.
	ClientSecret string
}

func msEndpoint(tenantID, path string) string {
	return "https://login.microsoftonline.com/" + tenantID + "/oauth2/v2.0/" + path
}

func resourceScope(envURL, scope string) string {
	return strings.TrimRight(envURL, "/") + "/" + scope
}

// tokenFilePath returns the path to the stored token file.
func tokenFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".ter", "auth", "dataverse_tokens.json"), nil
}

// oauth2Config returns the device code oauth2.Config for the environment.
func oauth2Config(c Credentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID: c.ClientID,
		Scopes:   []string{resourceScope(c.URL, "user_impersonation"), "offline_access"},
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: msEndpoint(c.TenantID, "devicecode"),
			TokenURL:      msEndpoint(c.TenantID, "token"),
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

// loadToken loads a previously saved token from disk.
func loadToken() (*oauth2.Token, error) {
	path, err := tokenFilePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("corrupt token file (delete %s to re-authenticate): %w", path, err)
	}
	return &tok, nil
}

// saveToken persists a token to disk.
func saveToken(tok *oauth2.Token) error {
	path, err := tokenFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating auth directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling token: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving token file: %w", err)
	}
	return nil
}

// savingTokenSource wraps a TokenSource and persists refreshed tokens.
type savingTokenSource struct {
	ts  oauth2.TokenSource
	log zerolog.Logger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.ts.Token()
	if err != nil {
		return nil, err
	}
	if err := saveToken(tok); err != nil {
		s.log.Warn().Err(err).Msg("could not save refreshed token")
	}
	return tok, nil
}

// HTTPClient returns an authenticated HTTP client for the environment.
// With a client secret it uses the client-credentials grant. Otherwise it
// loads the cached token, refreshes it if needed, or runs the device code
// flow, printing the sign-in instructions to prompt.
func HTTPClient(ctx context.Context, c Credentials, prompt io.Writer, log zerolog.Logger) (*http.Client, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("dataverse url is not configured")
	}
	if c.ClientSecret != "" {
		cc := clientcredentials.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     msEndpoint(c.TenantID, "token"),
			Scopes:       []string{resourceScope(c.URL, ".default")},
		}
		return cc.Client(ctx), nil
	}

	cfg := oauth2Config(c)
	tok, err := deviceToken(ctx, cfg, prompt, log)
	if err != nil {
		return nil, err
	}
	ts := cfg.TokenSource(ctx, tok)
	return oauth2.NewClient(ctx, &savingTokenSource{ts: ts, log: log}), nil
}

func deviceToken(ctx context.Context, cfg *oauth2.Config, prompt io.Writer, log zerolog.Logger) (*oauth2.Token, error) {
	tok, err := loadToken()
	if err != nil {
		// Corrupt token: warn and re-auth.
		log.Warn().Err(err).Msg("ignoring cached token")
		tok = nil
	}

	if tok != nil && tok.Valid() {
		return tok, nil
	}

	// Try to refresh.
	if tok != nil && tok.RefreshToken != "" {
		refreshed, err := cfg.TokenSource(ctx, tok).Token()
		if err == nil {
			if err2 := saveToken(refreshed); err2 != nil {
				log.Warn().Err(err2).Msg("could not save refreshed token")
			}
			return refreshed, nil
		}
		log.Info().Err(err).Msg("token refresh failed, re-authenticating")
	}

	resp, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("device auth request failed: %w", err)
	}

	fmt.Fprintln(prompt)
	fmt.Fprintln(prompt, "To sign in, use a web browser to open the page:")
	fmt.Fprintf(prompt, "  %s\n", resp.VerificationURI)
	fmt.Fprintf(prompt, "Enter the code: %s\n", resp.UserCode)
	fmt.Fprintln(prompt)

	newTok, err := cfg.DeviceAccessToken(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("device authentication failed: %w", err)
	}

	if err := saveToken(newTok); err != nil {
		log.Warn().Err(err).Msg("could not save token")
	}
	return newTok, nil
}
