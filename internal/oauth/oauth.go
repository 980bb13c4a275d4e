package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// DefaultCallbackAddr is where the browser flow listens for the redirect
const DefaultCallbackAddr = "localhost:8090"

// ErrNoCredentials is returned when neither client credentials nor a
// credentials file are available
var ErrNoCredentials = errors.New("no OAuth2 client credentials configured")

// Config holds the OAuth2 settings for the Gmail account
type Config struct {
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	AccessToken     string
	TokenFile       string
	CredentialsFile string
	CallbackAddr    string
}

// Manager resolves a token source for the Gmail client. Tokens come from,
// in order: a configured refresh token, the token file, or an interactive
// browser authorization whose result is saved to the token file.
type Manager struct {
	config   *Config
	logger   *slog.Logger
	out      io.Writer
	endpoint oauth2.Endpoint

	// openURL presents the authorization URL to the user
	openURL func(url string) error
}

// NewManager creates an OAuth manager
func NewManager(config *Config, logger *slog.Logger, out io.Writer) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = os.Stdout
	}
	m := &Manager{
		config:   config,
		logger:   logger,
		out:      out,
		endpoint: google.Endpoint,
	}
	m.openURL = func(url string) error {
		_, err := fmt.Fprintf(m.out, "\nVisit this URL in your browser to authorize access:\n\n%s\n\nWaiting for authorization...\n", url)
		return err
	}
	return m
}

// OAuthConfig builds the OAuth2 client configuration
func (m *Manager) OAuthConfig() (*oauth2.Config, error) {
	if m.config.ClientID != "" && m.config.ClientSecret != "" {
		return &oauth2.Config{
			ClientID:     m.config.ClientID,
			ClientSecret: m.config.ClientSecret,
			Scopes:       []string{gmail.GmailModifyScope},
			Endpoint:     m.endpoint,
		}, nil
	}

	if m.config.CredentialsFile == "" {
		return nil, ErrNoCredentials
	}
	data, err := os.ReadFile(m.config.CredentialsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrNoCredentials, m.config.CredentialsFile)
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return cfg, nil
}

// HTTPClient returns an authorized HTTP client
func (m *Manager) HTTPClient(ctx context.Context) (*http.Client, error) {
	ts, err := m.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, ts), nil
}

// TokenSource resolves a refreshing token source
func (m *Manager) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	cfg, err := m.OAuthConfig()
	if err != nil {
		return nil, err
	}

	if m.config.RefreshToken != "" {
		m.logger.Debug("Using configured refresh token")
		token := &oauth2.Token{
			AccessToken:  m.config.AccessToken,
			RefreshToken: m.config.RefreshToken,
			TokenType:    "Bearer",
		}
		return cfg.TokenSource(ctx, token), nil
	}

	token, err := LoadToken(m.config.TokenFile)
	switch {
	case err == nil:
		m.logger.Debug("Loaded token from file", "path", m.config.TokenFile)
	case errors.Is(err, os.ErrNotExist):
		m.logger.Info("No stored token, starting browser authorization")
		token, err = m.Authorize(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := SaveToken(m.config.TokenFile, token); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return &savingTokenSource{
		base:   cfg.TokenSource(ctx, token),
		path:   m.config.TokenFile,
		last:   token.AccessToken,
		logger: m.logger,
	}, nil
}

// Authorize runs the browser authorization code flow against a loopback
// callback server and exchanges the resulting code for a token.
func (m *Manager) Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	addr := m.config.CallbackAddr
	if addr == "" {
		addr = DefaultCallbackAddr
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback listener on %s: %w", addr, err)
	}

	state, err := randomState()
	if err != nil {
		listener.Close()
		return nil, err
	}

	flow := *cfg
	flow.RedirectURL = "http://" + listener.Addr().String() + "/callback"

	codes := make(chan string, 1)
	errs := make(chan error, 1)

	r := chi.NewRouter()
	r.Get("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "State mismatch", http.StatusBadRequest)
			sendErr(errs, errors.New("authorization state mismatch"))
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "Authorization denied", http.StatusBadRequest)
			sendErr(errs, fmt.Errorf("authorization denied: %s", e))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "No authorization code received", http.StatusBadRequest)
			sendErr(errs, errors.New("no authorization code received"))
			return
		}
		fmt.Fprint(w, "<html><body><h1>Authorization successful</h1><p>You can close this window.</p></body></html>")
		select {
		case codes <- code:
		default:
		}
	})

	server := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sendErr(errs, fmt.Errorf("callback server failed: %w", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL := flow.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	if err := m.openURL(authURL); err != nil {
		return nil, fmt.Errorf("failed to present authorization URL: %w", err)
	}

	var code string
	select {
	case code = <-codes:
	case err := <-errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	token, err := flow.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

func sendErr(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// LoadToken reads a token saved by SaveToken
func LoadToken(path string) (*oauth2.Token, error) {
	if path == "" {
		return nil, fmt.Errorf("token file: %w", os.ErrNotExist)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("failed to decode token file %s: %w", path, err)
	}
	return token, nil
}

// SaveToken writes a token with owner-only permissions
func SaveToken(path string, token *oauth2.Token) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// savingTokenSource persists refreshed tokens back to the token file
type savingTokenSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	path   string
	last   string
	logger *slog.Logger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		s.last = token.AccessToken
		if err := SaveToken(s.path, token); err != nil {
			s.logger.Warn("Failed to persist refreshed token", "path", s.path, "error", err)
		}
	}
	return token, nil
}
