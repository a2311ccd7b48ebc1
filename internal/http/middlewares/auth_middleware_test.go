package middlewares

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/gin-gonic/gin"
)

type fakeVerifier struct {
	claims *auth.Claims
	err    error
}

func (f *fakeVerifier) VerifyAccessToken(string) (*auth.Claims, error) {
	return f.claims, f.err
}

func newAuthRouter(v TokenVerifier, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)

	m := NewAuthMiddleware(v)

	r := gin.New()
	grp := r.Group("/", m.RequireAuth())
	if len(roles) > 0 {
		grp.Use(m.RequireRole(roles...))
	}
	grp.GET("/ping", func(c *gin.Context) {
		id, _ := UserIDFromContext(c)
		c.JSON(http.StatusOK, gin.H{"userId": id})
	})

	return r
}

func TestRequireAuth(t *testing.T) {
	okClaims := &auth.Claims{UserID: "u-1", Name: "Ada", Role: "user"}

	tests := []struct {
		name       string
		header     string
		verifier   *fakeVerifier
		wantStatus int
	}{
		{
			name:       "missing header",
			header:     "",
			verifier:   &fakeVerifier{claims: okClaims},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong scheme",
			header:     "Basic abc",
			verifier:   &fakeVerifier{claims: okClaims},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "empty token",
			header:     "Bearer ",
			verifier:   &fakeVerifier{claims: okClaims},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid token",
			header:     "Bearer bad",
			verifier:   &fakeVerifier{err: errors.New("boom")},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "valid token",
			header:     "Bearer good",
			verifier:   &fakeVerifier{claims: okClaims},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAuthRouter(tt.verifier)

			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		role       string
		required   []string
		wantStatus int
	}{
		{name: "matching role", role: "admin", required: []string{"admin"}, wantStatus: http.StatusOK},
		{name: "one of several", role: "user", required: []string{"admin", "user"}, wantStatus: http.StatusOK},
		{name: "wrong role", role: "user", required: []string{"admin"}, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeVerifier{claims: &auth.Claims{UserID: "u-1", Role: tt.role}}
			r := newAuthRouter(v, tt.required...)

			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set("Authorization", "Bearer good")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRejectionEnvelopeCarriesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m := NewAuthMiddleware(&fakeVerifier{err: errors.New("boom")})

	r := gin.New()
	r.Use(RequestID())
	r.GET("/ping", m.RequireAuth(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer bad")
	req.Header.Set("X-Request-Id", "req-123")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusUnauthorized)
	}

	var resp struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"requestId"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v body=%s", err, w.Body.String())
	}

	if resp.Error.Code != "unauthorized" {
		t.Fatalf("got code %q, want unauthorized", resp.Error.Code)
	}
	if resp.Error.RequestID != "req-123" {
		t.Fatalf("got requestId %q, want req-123", resp.Error.RequestID)
	}
}

func TestRequireRoleWithoutIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m := NewAuthMiddleware(&fakeVerifier{})

	r := gin.New()
	r.GET("/ping", m.RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
