package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// Auth modes selectable through configuration.
const (
	AuthModeAssertion = "assertion"
	AuthModeExchange  = "exchange"
)

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// TokenSource yields the bearer credential attached to provider calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate discards any cached credential after a 401.
	Invalidate()
}

// AssertionSource presents a freshly signed assertion on every call.
type AssertionSource struct {
	signer *Signer
}

func NewAssertionSource(signer *Signer) *AssertionSource {
	return &AssertionSource{signer: signer}
}

func (s *AssertionSource) Token(ctx context.Context) (string, error) {
	return s.signer.Sign()
}

func (s *AssertionSource) Invalidate() {}

// ExchangeSource trades a signed assertion for an access token at the
// provider's token endpoint and caches it until shortly before expiry.
// Concurrent callers share one in-flight exchange.
type ExchangeSource struct {
	signer     *Signer
	tokenURL   string
	httpClient *http.Client
	leeway     time.Duration
	timeout    time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	token *oauth2.Token
	group singleflight.Group
}

func NewExchangeSource(signer *Signer, tokenURL string, httpClient *http.Client) *ExchangeSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ExchangeSource{
		signer:     signer,
		tokenURL:   tokenURL,
		httpClient: httpClient,
		leeway:     time.Minute,
		timeout:    30 * time.Second,
		now:        time.Now,
	}
}

func (s *ExchangeSource) Token(ctx context.Context) (string, error) {
	if tok := s.cached(); tok != nil {
		return tok.AccessToken, nil
	}

	v, err, _ := s.group.Do("token", func() (any, error) {
		if tok := s.cached(); tok != nil {
			return tok, nil
		}
		// The exchange outlives any single caller's cancellation since
		// other callers may be waiting on it.
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		tok, err := s.exchange(exCtx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.token = tok
		s.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(*oauth2.Token).AccessToken, nil
}

func (s *ExchangeSource) Invalidate() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}

func (s *ExchangeSource) cached() *oauth2.Token {
	s.mu.RLock()
	tok := s.token
	s.mu.RUnlock()
	if tok == nil || tok.AccessToken == "" {
		return nil
	}
	if !tok.Expiry.IsZero() && !s.now().Add(s.leeway).Before(tok.Expiry) {
		return nil
	}
	return tok
}

func (s *ExchangeSource) exchange(ctx context.Context) (*oauth2.Token, error) {
	assertion, err := s.signer.Sign()
	if err != nil {
		return nil, err
	}

	cfg := clientcredentials.Config{
		ClientID: s.signer.ClientID(),
		TokenURL: s.tokenURL,
		Scopes:   strings.Fields(s.signer.Scope()),
		EndpointParams: url.Values{
			"client_assertion_type": {clientAssertionType},
			"client_assertion":      {assertion},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}

	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, s.httpClient))
	if err != nil {
		return nil, classifyExchangeError(err)
	}
	if tok.AccessToken == "" {
		return nil, wrapAuth("token exchange", errNoToken)
	}
	return tok, nil
}

func classifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		kind := domain.ErrAuth
		if re.Response.StatusCode >= 500 {
			kind = domain.ErrProviderUnavailable
		}
		return &domain.ProviderError{
			Kind:       kind,
			Op:         "token exchange",
			StatusCode: re.Response.StatusCode,
			Code:       re.ErrorCode,
			Message:    re.ErrorDescription,
			Body:       re.Body,
			Err:        err,
		}
	}
	return &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Op: "token exchange", Err: err}
}
