package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	ErrNoToken        = errors.New("token: not registered")
	ErrNoRefreshToken = errors.New("token: no refresh token")
	ErrRejected       = errors.New("token: rejected by server")
)

// refreshThreshold is the remaining lifetime below which NeedsRefresh
// reports true.
const refreshThreshold = 5 * time.Minute

// Token is the bearer credential pair returned by registration.
type Token struct {
	Access  string
	Refresh string
	Expiry  time.Time
}

func (t Token) Valid() bool { return t.Access != "" }

// Device identifies this device to the auth endpoints.
type Device struct {
	ID         string
	Name       string
	Type       string
	AppVersion string
}

// Manager registers the device and keeps the current bearer token.
type Manager struct {
	base   string
	device Device
	http   *http.Client
	log    *zap.Logger

	mu  sync.Mutex
	tok *Token

	now func() time.Time
}

func NewManager(base string, device Device, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		base:   base,
		device: device,
		http:   &http.Client{Timeout: 15 * time.Second},
		log:    log,
		now:    time.Now,
	}
}

type authResponse struct {
	AuthToken    string `json:"authToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Register posts the device identity and stores the returned token pair.
func (m *Manager) Register(ctx context.Context) (Token, error) {
	body := map[string]string{
		"deviceId":   m.device.ID,
		"deviceName": m.device.Name,
		"deviceType": m.device.Type,
		"appVersion": m.device.AppVersion,
	}
	tok, err := m.post(ctx, "/api/auth/register", body)
	if err != nil {
		return Token{}, err
	}

	m.mu.Lock()
	m.tok = &tok
	m.mu.Unlock()
	m.log.Info("device registered", zap.Time("expiry", tok.Expiry))
	return tok, nil
}

// Refresh exchanges the stored refresh token for a new pair. On failure the
// prior token is left intact.
func (m *Manager) Refresh(ctx context.Context) (Token, error) {
	m.mu.Lock()
	cur := m.tok
	m.mu.Unlock()
	if cur == nil || cur.Refresh == "" {
		return Token{}, ErrNoRefreshToken
	}

	body := map[string]string{
		"refreshToken": cur.Refresh,
		"deviceId":     m.device.ID,
	}
	tok, err := m.post(ctx, "/api/auth/refresh", body)
	if err != nil {
		return Token{}, err
	}

	m.mu.Lock()
	m.tok = &tok
	m.mu.Unlock()
	m.log.Info("token refreshed", zap.Time("expiry", tok.Expiry))
	return tok, nil
}

func (m *Manager) post(ctx context.Context, path string, body any) (Token, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Token{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.base+path, bytes.NewReader(data))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Token{}, ErrRejected
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Token{}, fmt.Errorf("token: %s: status %d: %s", path, resp.StatusCode, msg)
	}

	var ar authResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return Token{}, fmt.Errorf("token: %s: decode: %w", path, err)
	}
	if ar.AuthToken == "" {
		return Token{}, fmt.Errorf("token: %s: empty authToken", path)
	}

	return Token{
		Access:  ar.AuthToken,
		Refresh: ar.RefreshToken,
		Expiry:  m.expiryFrom(ar),
	}, nil
}

// expiryFrom prefers the server's expiresIn; when absent it recovers the
// expiry from the JWT exp claim. The client holds no signing secret, so the
// parse is unverified — the expiry is a scheduling hint, not a trust decision.
func (m *Manager) expiryFrom(ar authResponse) time.Time {
	if ar.ExpiresIn > 0 {
		return m.now().Add(time.Duration(ar.ExpiresIn) * time.Second)
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(ar.AuthToken, &claims); err == nil {
		if claims.ExpiresAt != nil {
			return claims.ExpiresAt.Time
		}
	}
	return time.Time{}
}

// Token returns the current token, if any.
func (m *Manager) Token() (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tok == nil {
		return Token{}, false
	}
	return *m.tok, true
}

// NeedsRefresh reports whether the token's remaining lifetime is below the
// refresh threshold. A token with unknown expiry never needs a refresh.
func (m *Manager) NeedsRefresh() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tok == nil || m.tok.Expiry.IsZero() {
		return false
	}
	return m.tok.Expiry.Sub(m.now()) < refreshThreshold
}

// Clear drops the stored token (logout).
func (m *Manager) Clear() {
	m.mu.Lock()
	m.tok = nil
	m.mu.Unlock()
}
