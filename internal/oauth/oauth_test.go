package oauth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSaveAndLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	token := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, SaveToken(path, token))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, token.AccessToken, loaded.AccessToken)
	assert.Equal(t, token.RefreshToken, loaded.RefreshToken)
	assert.True(t, token.Expiry.Equal(loaded.Expiry))
}

func TestLoadTokenMissing(t *testing.T) {
	_, err := LoadToken(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadToken("")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOAuthConfig(t *testing.T) {
	t.Run("Client credentials", func(t *testing.T) {
		m := NewManager(&Config{ClientID: "id", ClientSecret: "secret"}, testLogger(), io.Discard)
		cfg, err := m.OAuthConfig()
		require.NoError(t, err)
		assert.Equal(t, "id", cfg.ClientID)
		assert.Contains(t, cfg.Scopes, "https://www.googleapis.com/auth/gmail.modify")
	})

	t.Run("Credentials file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "credentials.json")
		creds := `{"installed":{"client_id":"file-id","client_secret":"file-secret",` +
			`"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",` +
			`"redirect_uris":["http://localhost"]}}`
		require.NoError(t, os.WriteFile(path, []byte(creds), 0o600))

		m := NewManager(&Config{CredentialsFile: path}, testLogger(), io.Discard)
		cfg, err := m.OAuthConfig()
		require.NoError(t, err)
		assert.Equal(t, "file-id", cfg.ClientID)
	})

	t.Run("Nothing configured", func(t *testing.T) {
		m := NewManager(&Config{CredentialsFile: filepath.Join(t.TempDir(), "nope.json")}, testLogger(), io.Discard)
		_, err := m.OAuthConfig()
		assert.ErrorIs(t, err, ErrNoCredentials)
	})
}

func TestTokenSourceFromTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, SaveToken(path, &oauth2.Token{
		AccessToken: "stored",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}))

	m := NewManager(&Config{ClientID: "id", ClientSecret: "secret", TokenFile: path}, testLogger(), io.Discard)
	ts, err := m.TokenSource(context.Background())
	require.NoError(t, err)

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "stored", token.AccessToken)
}

func TestAuthorizeBrowserFlow(t *testing.T) {
	tokenSrv := fakeTokenServer(t)
	tokenPath := filepath.Join(t.TempDir(), "token.json")

	m := NewManager(&Config{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenFile:    tokenPath,
		CallbackAddr: "127.0.0.1:0",
	}, testLogger(), io.Discard)
	m.endpoint = oauth2.Endpoint{
		AuthURL:  tokenSrv.URL + "/auth",
		TokenURL: tokenSrv.URL + "/token",
	}

	// Stand in for the browser: follow the redirect with a code
	m.openURL = func(raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		q := u.Query()
		callback := q.Get("redirect_uri") + "?code=the-code&state=" + url.QueryEscape(q.Get("state"))
		go func() {
			resp, err := http.Get(callback)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ts, err := m.TokenSource(ctx)
	require.NoError(t, err)

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", token.AccessToken)

	saved, err := LoadToken(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
}

func TestAuthorizeRejectsStateMismatch(t *testing.T) {
	m := NewManager(&Config{ClientID: "id", ClientSecret: "secret", CallbackAddr: "127.0.0.1:0"}, testLogger(), io.Discard)
	m.openURL = func(raw string) error {
		u, _ := url.Parse(raw)
		callback := u.Query().Get("redirect_uri") + "?code=x&state=forged"
		go func() {
			resp, err := http.Get(callback)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	cfg, err := m.OAuthConfig()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = m.Authorize(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state mismatch")
}

func TestAuthorizeHonorsContext(t *testing.T) {
	m := NewManager(&Config{ClientID: "id", ClientSecret: "secret", CallbackAddr: "127.0.0.1:0"}, testLogger(), io.Discard)
	m.openURL = func(string) error { return nil }

	cfg, err := m.OAuthConfig()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = m.Authorize(ctx, cfg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
