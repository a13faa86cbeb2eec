package usecase

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/semmidev/mongostash/internal/domain"
)

// TokenRenewal is how long the secret-store token is extended before reading.
const TokenRenewal = 72 * time.Hour

var ErrNoCredentialSource = errors.New("no credential source configured")

// Provider is one place credentials may come from. ok is false when the
// provider does not apply to the current configuration.
type Provider interface {
	Name() string
	Resolve(ctx context.Context) (creds domain.Credentials, ok bool, err error)
}

// Resolver asks its providers in order; the first applicable one wins.
type Resolver struct {
	providers []Provider
	logger    Logger
}

func NewResolver(logger Logger, providers ...Provider) *Resolver {
	return &Resolver{providers: providers, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context) (domain.Credentials, error) {
	for _, p := range r.providers {
		creds, ok, err := p.Resolve(ctx)
		if err != nil {
			return domain.Credentials{}, errors.Wrapf(err, "failed to resolve credentials from %s", p.Name())
		}
		if ok {
			r.logger.Infof("Using credentials from %s", p.Name())
			return creds, nil
		}
	}
	return domain.Credentials{}, ErrNoCredentialSource
}

type SecretStore interface {
	RenewSelf(ctx context.Context, increment time.Duration) error
	ReadSecret(ctx context.Context, path string) (map[string]interface{}, error)
}

type VaultProvider struct {
	Store    SecretStore
	Classify func(error) domain.Severity
	Path     string
	Host     string
	Database string
	Scoped   bool
	Logger   Logger
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context) (domain.Credentials, bool, error) {
	if p.Path == "" {
		return domain.Credentials{}, false, nil
	}

	if err := p.Store.RenewSelf(ctx, TokenRenewal); err != nil {
		if p.Classify == nil || p.Classify(err) != domain.Ignorable {
			return domain.Credentials{}, false, errors.Wrap(err, "failed to renew vault token")
		}
		p.Logger.Warnf("Vault token not renewed, continuing: %v", err)
	}

	secret, err := p.Store.ReadSecret(ctx, p.Path)
	if err != nil {
		return domain.Credentials{}, false, errors.Wrapf(err, "failed to read secret %s", p.Path)
	}

	creds := domain.Credentials{Host: p.Host, Database: p.Database}
	if creds.Username, err = stringField(secret, "username"); err != nil {
		return domain.Credentials{}, false, err
	}
	if creds.Password, err = stringField(secret, "password"); err != nil {
		return domain.Credentials{}, false, err
	}
	if host, ok := secret["host"].(string); ok && host != "" {
		creds.Host = host
	}
	if p.Scoped {
		if creds.Database, err = stringField(secret, "database"); err != nil {
			return domain.Credentials{}, false, err
		}
	}
	if creds.Host == "" {
		return domain.Credentials{}, false, errors.Errorf("secret %s: no host configured", p.Path)
	}

	return creds, true, nil
}

func stringField(secret map[string]interface{}, key string) (string, error) {
	raw, ok := secret[key]
	if !ok {
		return "", errors.Errorf("secret is missing %q", key)
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", errors.Errorf("secret field %q must be a non-empty string", key)
	}
	return value, nil
}

// StaticProvider uses credentials taken verbatim from configuration.
type StaticProvider struct {
	Credentials domain.Credentials
}

func (p *StaticProvider) Name() string { return "config" }

func (p *StaticProvider) Resolve(ctx context.Context) (domain.Credentials, bool, error) {
	if p.Credentials.Host == "" || p.Credentials.Username == "" {
		return domain.Credentials{}, false, nil
	}
	return p.Credentials, true, nil
}

type PromptProvider struct {
	In          io.Reader
	Out         io.Writer
	Interactive bool
	Scoped      bool
	// Database pre-fills the scoped database; it is only asked for when empty.
	Database string

	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)
}

func NewPromptProvider(interactive, scoped bool, database string) *PromptProvider {
	return &PromptProvider{
		In:           os.Stdin,
		Out:          os.Stderr,
		Interactive:  interactive,
		Scoped:       scoped,
		Database:     database,
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
	}
}

func (p *PromptProvider) Name() string { return "prompt" }

func (p *PromptProvider) Resolve(ctx context.Context) (domain.Credentials, bool, error) {
	if !p.Interactive {
		return domain.Credentials{}, false, nil
	}
	fd, isFile := p.fd()
	if !isFile || p.isTerminal == nil || !p.isTerminal(fd) {
		return domain.Credentials{}, false, nil
	}

	reader := bufio.NewReader(p.In)
	var (
		creds domain.Credentials
		err   error
	)
	if creds.Host, err = p.ask(reader, "Host: "); err != nil {
		return domain.Credentials{}, false, err
	}
	if creds.Username, err = p.ask(reader, "Username: "); err != nil {
		return domain.Credentials{}, false, err
	}

	fmt.Fprint(p.Out, "Password: ")
	password, err := p.readPassword(fd)
	fmt.Fprintln(p.Out)
	if err != nil {
		return domain.Credentials{}, false, errors.Wrap(err, "failed to read password")
	}
	creds.Password = string(password)

	if p.Scoped {
		creds.Database = p.Database
		if creds.Database == "" {
			if creds.Database, err = p.ask(reader, "Database: "); err != nil {
				return domain.Credentials{}, false, err
			}
		}
	}

	return creds, true, nil
}

func (p *PromptProvider) fd() (int, bool) {
	f, ok := p.In.(interface{ Fd() uintptr })
	if !ok {
		return 0, false
	}
	return int(f.Fd()), true
}

func (p *PromptProvider) ask(r *bufio.Reader, label string) (string, error) {
	fmt.Fprint(p.Out, label)
	line, err := r.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", errors.Wrapf(err, "failed to read %s", strings.TrimSuffix(label, ": "))
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.Errorf("%s must not be empty", strings.TrimSuffix(label, ": "))
	}
	return line, nil
}
