package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrAudienceMismatch  = errors.New("credential audience mismatch")
)

// Identity es lo que el proveedor devuelve de un credential valido.
type Identity struct {
	Subject   string
	Name      string
	AvatarURL string
}

// IdentityVerifier valida un credential del proveedor de identidad.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// GoogleVerifier valida ID tokens de Google contra el endpoint tokeninfo.
type GoogleVerifier struct {
	endpoint string
	clientID string
	client   *http.Client
	logger   *zap.Logger
}

func NewGoogleVerifier(endpoint, clientID string, logger *zap.Logger) *GoogleVerifier {
	if endpoint == "" {
		endpoint = "https://oauth2.googleapis.com/tokeninfo"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoogleVerifier{
		endpoint: endpoint,
		clientID: clientID,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

type tokenInfo struct {
	Aud     string `json:"aud"`
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (v *GoogleVerifier) Verify(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, ErrInvalidCredential
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+"?id_token="+url.QueryEscape(credential), nil)
	if err != nil {
		return Identity{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Identity{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		v.logger.Info("tokeninfo rejected credential", zap.Int("status", resp.StatusCode))
		return Identity{}, ErrInvalidCredential
	}

	var info tokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return Identity{}, fmt.Errorf("unmarshal tokeninfo: %w", err)
	}
	if info.Aud != v.clientID {
		return Identity{}, ErrAudienceMismatch
	}
	if strings.TrimSpace(info.Sub) == "" {
		return Identity{}, ErrInvalidCredential
	}

	return Identity{
		Subject:   info.Sub,
		Name:      info.Name,
		AvatarURL: info.Picture,
	}, nil
}
