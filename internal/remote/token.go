package remote

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/sheets/v4"

	"github.com/zombor/receipt-vault/internal/receipt"
)

// validTimeout bounds the refresh a Valid check may trigger
const validTimeout = 10 * time.Second

// Scopes requested for credentials loaded from a JSON file
var Scopes = []string{drive.DriveFileScope, sheets.SpreadsheetsScope}

// TokenProvider supplies the bearer credential for remote calls
type TokenProvider interface {
	// Token returns a bearer token or ErrNotAuthenticated
	Token(ctx context.Context) (string, error)
	// Valid reports whether a usable token is currently available
	Valid() bool
}

// OAuthTokens is a TokenProvider backed by an oauth2.TokenSource
type OAuthTokens struct {
	src          oauth2.TokenSource
	validTimeout time.Duration

	mu   sync.Mutex
	last *oauth2.Token
}

// NewOAuthTokens wraps src, reusing its token until it expires
func NewOAuthTokens(src oauth2.TokenSource) *OAuthTokens {
	return &OAuthTokens{src: oauth2.ReuseTokenSource(nil, src), validTimeout: validTimeout}
}

// NewStaticTokens returns a provider for a fixed access token
func NewStaticTokens(accessToken string) *OAuthTokens {
	return NewOAuthTokens(oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

// NewCredentialsTokens loads a service account or authorized user JSON file
func NewCredentialsTokens(ctx context.Context, path string) (*OAuthTokens, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return NewOAuthTokens(creds.TokenSource), nil
}

// Token returns the current access token, refreshing it if needed. A
// refresh that outlives ctx is abandoned.
func (o *OAuthTokens) Token(ctx context.Context) (string, error) {
	type result struct {
		tok *oauth2.Token
		err error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := o.src.Token()
		done <- result{tok, err}
	}()

	var tok *oauth2.Token
	var err error
	select {
	case r := <-done:
		tok, err = r.tok, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("%w: refreshing token: %w", ErrNotAuthenticated, ctx.Err())
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", ErrNotAuthenticated, receipt.ErrAuth, err)
	}
	if !tok.Valid() {
		return "", fmt.Errorf("%w: %w: token expired", ErrNotAuthenticated, receipt.ErrAuth)
	}
	o.mu.Lock()
	o.last = tok
	o.mu.Unlock()
	return tok.AccessToken, nil
}

// Valid reports whether a token can be obtained. A cached unexpired token
// answers without touching the source.
func (o *OAuthTokens) Valid() bool {
	o.mu.Lock()
	last := o.last
	o.mu.Unlock()
	if last != nil && last.Valid() {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.validTimeout)
	defer cancel()
	_, err := o.Token(ctx)
	return err == nil
}

// TokenSource adapts a TokenProvider for the Google API clients
func TokenSource(ctx context.Context, p TokenProvider) oauth2.TokenSource {
	return providerSource{ctx: ctx, p: p}
}

type providerSource struct {
	ctx context.Context
	p   TokenProvider
}

func (s providerSource) Token() (*oauth2.Token, error) {
	tok, err := s.p.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

// authenticated returns ErrNotAuthenticated when p cannot supply a token
func authenticated(p TokenProvider) error {
	if p == nil || !p.Valid() {
		return fmt.Errorf("%w: %w: no valid credential", ErrNotAuthenticated, receipt.ErrAuth)
	}
	return nil
}
