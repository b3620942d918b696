// Package auth obtains Lightcast bearer tokens through the OAuth2
// client-credentials grant.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var tokenRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lightcast_token_requests_total",
	Help: "Total OAuth token requests by outcome",
}, []string{"outcome"})

var (
	// ErrMissingCredentials is returned when client id or secret is empty.
	ErrMissingCredentials = errors.New("client id and client secret are required")

	// ErrMissingToken is returned when the token endpoint answers 2xx without an access token.
	ErrMissingToken = errors.New("token response has no access_token")
)

// Error is a fatal authentication failure.
type Error struct {
	// StatusCode of the token endpoint response, 0 when no response was received.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authenticate (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authenticate: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config holds the client-credentials settings.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// HTTPClient is used for token requests. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Authenticator issues and caches bearer tokens. A token is fetched on first
// use and refreshed once it expires.
type Authenticator struct {
	config     *clientcredentials.Config
	httpClient *http.Client
	logger     zerolog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// New creates an Authenticator. No request is made until the first token is needed.
func New(cfg Config) (*Authenticator, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token url is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Authenticator{
		config: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			// Lightcast expects the credentials in the form body.
			AuthStyle: oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		logger:     log.With().Str("component", "auth").Logger(),
	}, nil
}

// Token returns a valid bearer token, fetching a new one when needed.
// The token request is bound to ctx.
func (a *Authenticator) Token(ctx context.Context) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token.Valid() {
		return a.token, nil
	}

	tok, err := a.fetch(ctx)
	if err != nil {
		return nil, err
	}
	a.token = tok
	return tok, nil
}

// Authorize sets the Authorization header of req.
func (a *Authenticator) Authorize(req *http.Request) error {
	tok, err := a.Token(req.Context())
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	return nil
}

func (a *Authenticator) fetch(ctx context.Context) (*oauth2.Token, error) {
	tok, err := a.config.Token(context.WithValue(ctx, oauth2.HTTPClient, a.httpClient))
	if err != nil {
		tokenRequestsTotal.WithLabelValues("error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &Error{Err: ctxErr}
		}
		authErr := &Error{Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			authErr.StatusCode = retrieveErr.Response.StatusCode
		}
		a.logger.Error().Err(err).Int("status_code", authErr.StatusCode).Msg("Token request failed")
		return nil, authErr
	}
	if tok.AccessToken == "" {
		tokenRequestsTotal.WithLabelValues("error").Inc()
		return nil, &Error{Err: ErrMissingToken}
	}

	tokenRequestsTotal.WithLabelValues("ok").Inc()
	a.logger.Info().Time("expiry", tok.Expiry).Msg("Obtained access token")
	return tok, nil
}
