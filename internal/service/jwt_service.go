package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"realtime-chat/internal/domain"
)

var (
	ErrJWTInvalid = errors.New("jwt invalid")
	ErrJWTExpired = errors.New("jwt expired")
)

type tokenKind string

const (
	tokenAccess  tokenKind = "access"
	tokenRefresh tokenKind = "refresh"
)

// JWTService emite los tokens del chat. Sin secreto configurado queda desactivado
// y el websocket confia en el user_id de la ruta.
type JWTService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	store      RefreshTokenStore
	now        func() time.Time
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type Claims struct {
	UserID    string `json:"uid"`
	Name      string `json:"name,omitempty"`
	GoogleID  string `json:"google_id,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// UserIDInt devuelve el id numerico del usuario del token.
func (c Claims) UserIDInt() (int64, error) {
	id, err := strconv.ParseInt(c.UserID, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrJWTInvalid
	}
	return id, nil
}

func (c Claims) user() (domain.User, error) {
	id, err := c.UserIDInt()
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: id, Name: c.Name, ExternalID: c.GoogleID}, nil
}

func NewJWTService(secret string, accessTTL, refreshTTL time.Duration) *JWTService {
	return NewJWTServiceWithStore(secret, accessTTL, refreshTTL, nil)
}

func NewJWTServiceWithStore(secret string, accessTTL, refreshTTL time.Duration, store RefreshTokenStore) *JWTService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	if store == nil {
		store = NewMemoryRefreshTokenStore()
	}
	return &JWTService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     "realtime-chat",
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *JWTService) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// GeneratePair emite un access token y un refresh token cuyo jti queda registrado en el store.
func (s *JWTService) GeneratePair(ctx context.Context, user domain.User) (TokenPair, error) {
	if !s.Enabled() || user.ID <= 0 {
		return TokenPair{}, ErrJWTInvalid
	}
	now := s.now()
	access, _, err := s.sign(user, tokenAccess, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, jti, err := s.sign(user, tokenRefresh, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.Save(ctx, jti, user.ID, s.refreshTTL); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// RefreshPair rota el par: el refresh token presentado se consume y no vuelve a servir.
func (s *JWTService) RefreshPair(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.parse(refreshToken, tokenRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	user, err := claims.user()
	if err != nil {
		return TokenPair{}, err
	}
	owner, err := s.store.Consume(ctx, claims.ID)
	if err != nil || owner != user.ID {
		return TokenPair{}, ErrJWTInvalid
	}
	return s.GeneratePair(ctx, user)
}

func (s *JWTService) RevokeRefresh(ctx context.Context, refreshToken string) error {
	claims, err := s.parse(refreshToken, tokenRefresh)
	if err != nil {
		return err
	}
	return s.store.Revoke(ctx, claims.ID)
}

func (s *JWTService) ParseAccessToken(accessToken string) (Claims, error) {
	return s.parse(accessToken, tokenAccess)
}

// sign firma un token del tipo pedido. Los refresh llevan jti; los access no.
func (s *JWTService) sign(user domain.User, kind tokenKind, now time.Time) (string, string, error) {
	uid := strconv.FormatInt(user.ID, 10)
	ttl := s.accessTTL
	var jti string
	if kind == tokenRefresh {
		ttl = s.refreshTTL
		jti = uuid.NewString()
	}
	claims := Claims{
		UserID:    uid,
		Name:      user.Name,
		GoogleID:  user.ExternalID,
		TokenType: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.issuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return signed, jti, err
}

func (s *JWTService) parse(raw string, kind tokenKind) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if !s.Enabled() || raw == "" {
		return Claims{}, ErrJWTInvalid
	}
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrJWTExpired
		}
		return Claims{}, ErrJWTInvalid
	}
	if claims.TokenType != string(kind) || claims.Subject == "" || claims.Subject != claims.UserID {
		return Claims{}, ErrJWTInvalid
	}
	if kind == tokenRefresh && claims.ID == "" {
		return Claims{}, ErrJWTInvalid
	}
	return claims, nil
}
