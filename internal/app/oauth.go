package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/semmidev/mongostash/internal/adapter/storage"
)

type authLogger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// DriveAuth is a one-shot local web flow that obtains the refresh token the
// gdrive sink needs. The token is delivered on Tokens() and printed in the
// browser.
type DriveAuth struct {
	config *oauth2.Config
	logger authLogger
	state  string
	server *http.Server
	tokens chan *oauth2.Token
}

func NewDriveAuth(logger authLogger, clientSecretPath, redirectURL string) (*DriveAuth, error) {
	if clientSecretPath == "" {
		return nil, errors.New("upload.client_secret_file is not set")
	}

	cfg, err := storage.DriveOAuthConfig(clientSecretPath)
	if err != nil {
		return nil, err
	}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}

	state := make([]byte, 16)
	if _, err := rand.Read(state); err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	return &DriveAuth{
		config: cfg,
		logger: logger,
		state:  hex.EncodeToString(state),
		tokens: make(chan *oauth2.Token, 1),
	}, nil
}

func (s *DriveAuth) AuthURL() string {
	return s.config.AuthCodeURL(s.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *DriveAuth) Tokens() <-chan *oauth2.Token {
	return s.tokens
}

func (s *DriveAuth) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/google/drive", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.AuthURL(), http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("GET /auth/google/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != s.state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}

		token, err := s.config.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, fmt.Sprintf("token exchange failed: %v", err), http.StatusInternalServerError)
			return
		}
		if token.RefreshToken == "" {
			fmt.Fprintln(w, "No refresh token returned. Revoke app access and re-authorize.")
			return
		}

		fmt.Fprintf(w, "Refresh token (set upload.refresh_token):\n%s\n", token.RefreshToken)
		select {
		case s.tokens <- token:
		default:
		}
	})

	return mux
}

// Start serves the flow on addr in the background.
func (s *DriveAuth) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Infof("Google Drive OAuth server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("OAuth server error: %v", err)
		}
	}()

	return nil
}

func (s *DriveAuth) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown OAuth server: %w", err)
	}
	s.logger.Infof("OAuth server stopped")
	return nil
}
