package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// Access scopes carried by a credential.
const (
	AccessRead  = "read"
	AccessWrite = "write"
)

const issuer = "ledger-intake"

// Credential errors.
var (
	ErrInvalidToken = errors.New("invalid storage credential")
	ErrWrongScope   = errors.New("credential does not grant this access")
)

// Claims bind a token to one object path and one access scope.
type Claims struct {
	jwt.RegisteredClaims
	Path   string `json:"path"`
	Access string `json:"access"`
}

// Signer issues and checks HS256 credentials for storage objects.
type Signer struct {
	now func() time.Time
	key []byte
	ttl time.Duration
}

// NewSigner creates a signer. ttl bounds every credential's lifetime.
func NewSigner(key []byte, ttl time.Duration) (*Signer, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("signing key must be at least 16 bytes, got %d", len(key))
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{key: key, ttl: ttl, now: time.Now}, nil
}

// Sign returns a reference to path usable for access until it expires.
func (s *Signer) Sign(path, access string) (model.SignedRef, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   path,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Path:   path,
		Access: access,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return model.SignedRef{}, fmt.Errorf("failed to sign credential: %w", err)
	}
	return model.SignedRef{Path: path, Token: token, ExpiresAt: exp}, nil
}

// Verify checks token and returns the path it grants access to.
func (s *Signer) Verify(token, access string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Access != access {
		return "", fmt.Errorf("%w: have %q, need %q", ErrWrongScope, claims.Access, access)
	}
	return claims.Path, nil
}

// Reader opens objects through signed references only.
type Reader struct {
	store  service.ContentStore
	signer *Signer
}

// NewReader creates a Reader over store.
func NewReader(store service.ContentStore, signer *Signer) *Reader {
	return &Reader{store: store, signer: signer}
}

// OpenRef verifies ref's read credential and opens the object.
func (r *Reader) OpenRef(ctx context.Context, ref model.SignedRef) (io.ReadCloser, error) {
	path, err := r.signer.Verify(ref.Token, AccessRead)
	if err != nil {
		return nil, err
	}
	if path != ref.Path {
		return nil, fmt.Errorf("%w: token is for another object", ErrInvalidToken)
	}
	return r.store.Open(ctx, path)
}
