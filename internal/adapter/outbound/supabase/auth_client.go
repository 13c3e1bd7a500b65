// Package supabase provides the outbound adapters for the hosted backend:
// the GoTrue-style auth endpoint and the PostgREST data API.
package supabase

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidshq/forgetfulme-sub002/internal/observe"
	"github.com/davidshq/forgetfulme-sub002/internal/port/outbound"
)

const (
	// maxResponseBodySize caps response reads from the backend.
	// Auth and bookmark payloads are small; anything larger is hostile.
	maxResponseBodySize = 4 * 1024 * 1024 // 4MB

	defaultTimeout = 30 * time.Second
)

// AuthClient implements outbound.AuthAPI against a Supabase auth endpoint.
type AuthClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	metrics    *observe.Metrics
	tracer     trace.Tracer
}

// ClientOption is a functional option for configuring AuthClient.
type ClientOption func(*AuthClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		c.httpClient = client
	}
}

// WithMetrics sets the metrics sink for request durations.
func WithMetrics(m *observe.Metrics) ClientOption {
	return func(c *AuthClient) {
		c.metrics = m
	}
}

// NewAuthClient creates a client for the auth endpoint at baseURL
// (the project URL, without the /auth/v1 suffix), authenticated with the
// project's anon key.
func NewAuthClient(baseURL, anonKey string, opts ...ClientOption) *AuthClient {
	c := &AuthClient{
		baseURL: baseURL,
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		metrics: observe.NopMetrics(),
		tracer:  otel.Tracer("forgetfulme/supabase"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// authResponse is the union shape the auth endpoint answers with.
// The token grants return the token fields plus a nested user; signup with
// confirmation pending returns the bare user object at the top level.
type authResponse struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	ExpiresIn    int64               `json:"expires_in"`
	ExpiresAt    int64               `json:"expires_at"`
	TokenType    string              `json:"token_type"`
	User         *outbound.RemoteUser `json:"user"`

	// Bare-user fields (signup pending confirmation).
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
}

// toResult maps the union response onto the port's {user, session} pair.
func (r *authResponse) toResult() *outbound.AuthResult {
	result := &outbound.AuthResult{User: r.User}
	if result.User == nil && r.ID != "" {
		result.User = &outbound.RemoteUser{
			ID:               r.ID,
			Email:            r.Email,
			EmailConfirmedAt: r.EmailConfirmedAt,
		}
	}
	if r.AccessToken != "" {
		result.Session = &outbound.RemoteSession{
			AccessToken:  r.AccessToken,
			RefreshToken: r.RefreshToken,
			ExpiresIn:    r.ExpiresIn,
			ExpiresAt:    r.ExpiresAt,
			TokenType:    r.TokenType,
		}
	}
	return result
}

// SignInWithPassword exchanges credentials for a session via the password
// grant.
func (c *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*outbound.AuthResult, error) {
	var resp authResponse
	err := c.do(ctx, "sign_in", http.MethodPost, "/auth/v1/token?grant_type=password",
		map[string]string{"email": email, "password": password}, "", &resp)
	if err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}

// SignUp registers a new account. The result carries no session when the
// service requires email confirmation first.
func (c *AuthClient) SignUp(ctx context.Context, email, password string) (*outbound.AuthResult, error) {
	var resp authResponse
	err := c.do(ctx, "sign_up", http.MethodPost, "/auth/v1/signup",
		map[string]string{"email": email, "password": password}, "", &resp)
	if err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}

// SignOut revokes the session behind accessToken.
func (c *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, "sign_out", http.MethodPost, "/auth/v1/logout", struct{}{}, accessToken, nil)
}

// RefreshSession exchanges a refresh token for a new session.
func (c *AuthClient) RefreshSession(ctx context.Context, refreshToken string) (*outbound.AuthResult, error) {
	var resp authResponse
	err := c.do(ctx, "refresh", http.MethodPost, "/auth/v1/token?grant_type=refresh_token",
		map[string]string{"refresh_token": refreshToken}, "", &resp)
	if err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}

// GetUser fetches the user record behind accessToken.
func (c *AuthClient) GetUser(ctx context.Context, accessToken string) (*outbound.RemoteUser, error) {
	var user outbound.RemoteUser
	if err := c.do(ctx, "get_user", http.MethodGet, "/auth/v1/user", nil, accessToken, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ResetPasswordForEmail triggers the password-recovery email flow.
func (c *AuthClient) ResetPasswordForEmail(ctx context.Context, email string) error {
	return c.do(ctx, "reset_password", http.MethodPost, "/auth/v1/recover",
		map[string]string{"email": email}, "", nil)
}

// do performs one request against the auth endpoint. A non-2xx response
// is decoded into *APIError. When out is non-nil the 2xx body is decoded
// into it.
func (c *AuthClient) do(ctx context.Context, endpoint, method, path string, body any, accessToken string, out any) error {
	ctx, span := c.tracer.Start(ctx, "supabase.auth."+endpoint,
		trace.WithAttributes(attribute.String("http.method", method)))
	defer span.End()

	start := time.Now()
	err := doJSON(ctx, c.httpClient, method, c.baseURL+path, c.anonKey, accessToken, nil, body, out)
	c.metrics.RemoteRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// doJSON is the shared HTTP round trip for both backend adapters.
// bearer falls back to the anon key when no user token is supplied, per
// the service's convention.
func doJSON(ctx context.Context, client *http.Client, method, rawurl, anonKey, bearer string, extra http.Header, body, out any) error {
	if _, err := url.Parse(rawurl); err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawurl, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", anonKey)
	if bearer == "" {
		bearer = anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("remote request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// decodeAPIError maps the service's error payload variants onto APIError.
func decodeAPIError(status int, data []byte) *APIError {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorCode        string `json:"error_code"`
		Code             any    `json:"code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	_ = json.Unmarshal(data, &payload)

	msg := payload.ErrorDescription
	if msg == "" {
		msg = payload.Msg
	}
	if msg == "" {
		msg = payload.Message
	}
	if msg == "" {
		msg = payload.Error
	}

	code := payload.ErrorCode
	if code == "" {
		if s, ok := payload.Code.(string); ok {
			code = s
		}
	}

	return &APIError{Status: status, Code: code, Message: msg}
}

// Compile-time interface verification.
var _ outbound.AuthAPI = (*AuthClient)(nil)
