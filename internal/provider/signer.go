package provider

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/punchamoorthee/freightbank/internal/domain"
)

// AssertionLifetime is how long a signed assertion stays valid.
const AssertionLifetime = time.Hour

// Credentials identify this platform to the provider. They are injected at
// construction and never compiled in.
type Credentials struct {
	ClientID   string
	KeyID      string
	Audience   string
	Scope      string
	PrivateKey *ecdsa.PrivateKey
}

// AssertionClaims is the payload of a signed assertion.
type AssertionClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Signer produces ES256 assertions. It holds no mutable state and is safe
// for concurrent use.
type Signer struct {
	creds Credentials
	now   func() time.Time
}

func NewSigner(creds Credentials) (*Signer, error) {
	if creds.PrivateKey == nil {
		return nil, &domain.ProviderError{Kind: domain.ErrAuth, Op: "signer", Message: "private key is required"}
	}
	if creds.ClientID == "" || creds.Audience == "" {
		return nil, &domain.ProviderError{Kind: domain.ErrAuth, Op: "signer", Message: "client id and audience are required"}
	}
	return &Signer{creds: creds, now: time.Now}, nil
}

// ParsePrivateKey decodes a PEM encoded EC P-256 key.
func ParsePrivateKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, &domain.ProviderError{Kind: domain.ErrAuth, Op: "signer", Message: "invalid private key", Err: err}
	}
	if key.Curve.Params().Name != "P-256" {
		return nil, &domain.ProviderError{Kind: domain.ErrAuth, Op: "signer", Message: "private key must be on curve P-256"}
	}
	return key, nil
}

// Sign returns a compact signed assertion with a fresh jti.
func (s *Signer) Sign() (string, error) {
	iat := s.now().UTC().Truncate(time.Second)
	claims := AssertionClaims{
		Scope: s.creds.Scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.creds.ClientID,
			Subject:   s.creds.ClientID,
			Audience:  jwt.ClaimStrings{s.creds.Audience},
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(AssertionLifetime)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.creds.KeyID

	signed, err := token.SignedString(s.creds.PrivateKey)
	if err != nil {
		return "", &domain.ProviderError{Kind: domain.ErrAuth, Op: "signer", Message: "sign assertion", Err: err}
	}
	return signed, nil
}

// ClientID returns the issuer used in assertions.
func (s *Signer) ClientID() string { return s.creds.ClientID }

// Scope returns the space-delimited scope string.
func (s *Signer) Scope() string { return s.creds.Scope }

var errNoToken = errors.New("token source returned empty token")

func wrapAuth(op string, err error) error {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &domain.ProviderError{Kind: domain.ErrAuth, Op: op, Message: fmt.Sprintf("obtain credentials: %v", err), Err: err}
}
