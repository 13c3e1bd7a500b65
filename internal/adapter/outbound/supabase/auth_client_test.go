package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testAnonKey = "anon-key"

func TestAuthClient_SignInWithPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/auth/v1/token" {
			t.Errorf("path = %s, want /auth/v1/token", r.URL.Path)
		}
		if got := r.URL.Query().Get("grant_type"); got != "password" {
			t.Errorf("grant_type = %s, want password", got)
		}
		if got := r.Header.Get("apikey"); got != testAnonKey {
			t.Errorf("apikey header = %s, want %s", got, testAnonKey)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+testAnonKey {
			t.Errorf("Authorization = %s, want anon-key bearer fallback", got)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if body["email"] != "a@example.com" || body["password"] != "secret1" {
			t.Errorf("request body = %v", body)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"expires_in":    3600,
			"expires_at":    1700003600,
			"token_type":    "bearer",
			"user":          map[string]string{"id": "u1", "email": "a@example.com"},
		})
	}))
	defer srv.Close()

	c := NewAuthClient(srv.URL, testAnonKey)
	result, err := c.SignInWithPassword(context.Background(), "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignInWithPassword() error = %v", err)
	}
	if result.User == nil || result.User.ID != "u1" {
		t.Errorf("result.User = %+v", result.User)
	}
	if result.Session == nil || result.Session.AccessToken != "at" || result.Session.ExpiresAt != 1700003600 {
		t.Errorf("result.Session = %+v", result.Session)
	}
}

func TestAuthClient_SignInInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	}))
	defer srv.Close()

	c := NewAuthClient(srv.URL, testAnonKey)
	_, err := c.SignInWithPassword(context.Background(), "a@example.com", "wrong12")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", apiErr.Status)
	}
	if apiErr.Message != "Invalid login credentials" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestAuthClient_SignUpPendingConfirmation(t *testing.T) {
	// Signup with confirmation pending answers with the bare user object
	// and no token fields.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/signup" {
			t.Errorf("path = %s, want /auth/v1/signup", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":                 "u2",
			"email":              "b@example.com",
			"email_confirmed_at": nil,
		})
	}))
	defer srv.Close()

	c := NewAuthClient(srv.URL, testAnonKey)
	result, err := c.SignUp(context.Background(), "b@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if result.Session != nil {
		t.Errorf("pending-confirmation signup should carry no session, got %+v", result.Session)
	}
	if result.User == nil || result.User.ID != "u2" || result.User.EmailConfirmedAt != nil {
		t.Errorf("result.User = %+v", result.User)
	}
}

func TestAuthClient_SignOut(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/logout" {
			t.Errorf("path = %s, want /auth/v1/logout", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewAuthClient(srv.URL, testAnonKey)
	if err := c.SignOut(context.Background(), "user-token"); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if gotAuth != "Bearer user-token" {
		t.Errorf("Authorization = %q, want the user token", gotAuth)
	}
}

func TestAuthClient_RefreshSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %s, want refresh_token", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "rt-old" {
			t.Errorf("refresh_token = %q", body["refresh_token"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-new",
			"refresh_token": "rt-new",
			"expires_in":    3600,
			"token_type":    "bearer",
			"user":          map[string]string{"id": "u1", "email": "a@example.com"},
		})
	}))
	defer srv.Close()

	c := NewAuthClient(srv.URL, testAnonKey)
	result, err := c.RefreshSession(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("RefreshSession() error = %v", err)
	}
	if result.Session == nil || result.Session.AccessToken != "at-new" || result.Session.RefreshToken != "rt-new" {
		t.Errorf("result.Session = %+v", result.Session)
	}
}

func TestAuthClient_GetUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/auth/v1/user" {
			t.Errorf("%s %s, want GET /auth/v1/user", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "u1", "email": "a@example.com"})
	}))
	defer srv.Close()

	c := NewAuthClient(srv.URL, testAnonKey)
	user, err := c.GetUser(context.Background(), "at")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.ID != "u1" || user.Email != "a@example.com" {
		t.Errorf("user = %+v", user)
	}
}

func TestDecodeAPIError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		wantCode string
	}{
		{
			name:    "error_description",
			status:  400,
			body:    `{"error":"invalid_grant","error_description":"Invalid login credentials"}`,
			wantMsg: "Invalid login credentials",
		},
		{
			name:     "msg with string code",
			status:   403,
			body:     `{"code":"session_not_found","msg":"Session not found"}`,
			wantMsg:  "Session not found",
			wantCode: "session_not_found",
		},
		{
			name:    "numeric code falls back to message",
			status:  422,
			body:    `{"code":422,"msg":"Signup requires a valid password"}`,
			wantMsg: "Signup requires a valid password",
		},
		{
			name:    "message field",
			status:  404,
			body:    `{"message":"relation \"missing\" does not exist"}`,
			wantMsg: `relation "missing" does not exist`,
		},
		{
			name:   "unparseable body",
			status: 502,
			body:   "bad gateway",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := decodeAPIError(tt.status, []byte(tt.body))
			if apiErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", apiErr.Status, tt.status)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestIsSessionAbsence(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"session not found", &APIError{Status: 403, Message: "Session not found"}, true},
		{"auth session missing", &APIError{Status: 400, Message: "Auth session missing!"}, true},
		{"invalid refresh token", &APIError{Status: 400, Message: "Invalid Refresh Token: Already Used"}, true},
		{"refresh token not found", &APIError{Status: 400, Message: "refresh token not found"}, true},
		{"code without message", &APIError{Status: 403, Code: "session_not_found"}, false},
		{"real failure", &APIError{Status: 500, Message: "internal server error"}, false},
		{"wrapped", errors.New("refresh: remote error (HTTP 403): Session not found"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSessionAbsence(tt.err); got != tt.want {
				t.Errorf("IsSessionAbsence(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
