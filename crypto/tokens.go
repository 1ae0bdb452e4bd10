package crypto

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind discriminates access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Default issuer and audience strings embedded in every token.
const (
	DefaultIssuer   = "ged-ministere-backend"
	DefaultAudience = "ged-ministere-frontend"
)

// Verification errors. Every failure of VerifyAccess or VerifyRefresh
// matches exactly one of these with errors.Is.
var (
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenMalformed   = errors.New("token is malformed or has been tampered with")
	ErrTokenNotYetValid = errors.New("token is not valid yet")
)

var errWrongKind = errors.New("unexpected token kind")

// AccessClaims is the claim set of an access token. Role and email are
// embedded so authorization does not need an account lookup.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	SessionID string    `json:"sid"`
	IssuedMs  int64     `json:"iat_ms"`
	Kind      TokenKind `json:"typ"`
}

// Validate is called by the jwt parser after the registered claims checks.
func (c *AccessClaims) Validate() error {
	if c.Kind != TokenKindAccess {
		return errWrongKind
	}
	if c.Subject == "" || c.SessionID == "" {
		return errors.New("missing subject or session")
	}
	return nil
}

// IssuedAtTime returns the issuance instant with millisecond precision.
func (c *AccessClaims) IssuedAtTime() time.Time {
	return issuedAt(c.IssuedMs, c.IssuedAt)
}

// RefreshClaims is the claim set of a refresh token. It carries only what
// rotation needs.
type RefreshClaims struct {
	jwt.RegisteredClaims
	SessionID string    `json:"sid"`
	FamilyID  string    `json:"fam"`
	IssuedMs  int64     `json:"iat_ms"`
	Kind      TokenKind `json:"typ"`
}

// Validate is called by the jwt parser after the registered claims checks.
func (c *RefreshClaims) Validate() error {
	if c.Kind != TokenKindRefresh {
		return errWrongKind
	}
	if c.Subject == "" || c.SessionID == "" || c.FamilyID == "" {
		return errors.New("missing subject, session or family")
	}
	return nil
}

// IssuedAtTime returns the issuance instant with millisecond precision.
func (c *RefreshClaims) IssuedAtTime() time.Time {
	return issuedAt(c.IssuedMs, c.IssuedAt)
}

func issuedAt(ms int64, iat *jwt.NumericDate) time.Time {
	if ms > 0 {
		return time.UnixMilli(ms)
	}
	if iat != nil {
		return iat.Time
	}
	return time.Time{}
}

// Remaining returns how long a token with the given expiry stays valid.
func Remaining(exp *jwt.NumericDate, now time.Time) time.Duration {
	if exp == nil {
		return 0
	}
	d := exp.Time.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TokenPair is an access/refresh pair bound to one session and one family.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
	FamilyID         string    `json:"-"`
}

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// TokenIssuer creates and validates signed access/refresh tokens.
type TokenIssuer struct {
	cfg TokenConfig
}

// NewTokenIssuer validates cfg and returns an issuer.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.AccessSecret) < 32 || len(cfg.RefreshSecret) < 32 {
		return nil, errors.New("token secrets must be at least 32 bytes")
	}
	if ConstantTimeEquals(cfg.AccessSecret, cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenIssuer{cfg: cfg}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }

// IssuePair mints a new pair whose refresh token lives for the full RefreshTTL.
func (i *TokenIssuer) IssuePair(accountID, email, role, sessionID, familyID string) (*TokenPair, error) {
	return i.IssuePairUntil(accountID, email, role, sessionID, familyID, i.cfg.Now().Add(i.cfg.RefreshTTL))
}

// IssuePairUntil mints a new pair whose refresh token expires at refreshExpiresAt.
// Rotation uses it to keep the absolute session expiry.
func (i *TokenIssuer) IssuePairUntil(accountID, email, role, sessionID, familyID string, refreshExpiresAt time.Time) (*TokenPair, error) {
	now := i.cfg.Now()
	accessExp := now.Add(i.cfg.AccessTTL)

	accessJTI, err := RandomToken(16)
	if err != nil {
		return nil, err
	}
	access := AccessClaims{
		RegisteredClaims: i.registered(accountID, accessJTI, now, accessExp),
		Email:            email,
		Role:             role,
		SessionID:        sessionID,
		IssuedMs:         now.UnixMilli(),
		Kind:             TokenKindAccess,
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &access).SignedString(i.cfg.AccessSecret)
	if err != nil {
		return nil, err
	}

	refreshJTI, err := RandomToken(16)
	if err != nil {
		return nil, err
	}
	refresh := RefreshClaims{
		RegisteredClaims: i.registered(accountID, refreshJTI, now, refreshExpiresAt),
		SessionID:        sessionID,
		FamilyID:         familyID,
		IssuedMs:         now.UnixMilli(),
		Kind:             TokenKindRefresh,
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &refresh).SignedString(i.cfg.RefreshSecret)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(i.cfg.AccessTTL.Seconds()),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExpiresAt,
		SessionID:        sessionID,
		FamilyID:         familyID,
	}, nil
}

func (i *TokenIssuer) registered(subject, jti string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    i.cfg.Issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{i.cfg.Audience},
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

// VerifyAccess validates an access token signed with the access secret.
func (i *TokenIssuer) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.verify(tokenStr, i.cfg.AccessSecret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token signed with the refresh secret.
func (i *TokenIssuer) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.verify(tokenStr, i.cfg.RefreshSecret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (i *TokenIssuer) verify(tokenStr string, secret []byte, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.cfg.Now),
	)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return classify(err)
	}
	if !token.Valid {
		return ErrTokenMalformed
	}
	return nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrTokenNotYetValid
	default:
		return ErrTokenMalformed
	}
}

// DecodeUnverified returns the claims of a token without checking its
// signature. Diagnostics only: the result must never authorize anything.
func DecodeUnverified(tokenStr string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
