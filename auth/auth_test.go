package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte(strings.Repeat("k", 32))

func TestGenerateValidate(t *testing.T) {
	tok, err := GenerateToken(secret, "ops", RoleOperator, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c, err := ValidateToken(secret, tok)
	if err != nil {
		t.Fatal(err)
	}
	if c.Subject != "ops" || c.Role != RoleOperator {
		t.Fatalf("claims = %+v", c)
	}
}

func TestGenerate_ShortSecret(t *testing.T) {
	if _, err := GenerateToken([]byte("short"), "ops", RoleOperator, time.Hour); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	expired, _ := GenerateToken(secret, "ops", RoleOperator, -time.Minute)
	if _, err := ValidateToken(secret, expired); err == nil {
		t.Error("expired token accepted")
	}

	other, _ := GenerateToken([]byte(strings.Repeat("x", 32)), "ops", RoleOperator, time.Hour)
	if _, err := ValidateToken(secret, other); err == nil {
		t.Error("token signed with another secret accepted")
	}

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: RoleOperator}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := ValidateToken(secret, none); err == nil {
		t.Error("alg=none accepted")
	}
}

func TestRequire(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(204) })
	h := Middleware(secret)(Require(RoleOperator)(ok))

	operator, _ := GenerateToken(secret, "ops", RoleOperator, time.Hour)
	viewer, _ := GenerateToken(secret, "dash", RoleViewer, time.Hour)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", 401},
		{"garbage", "Bearer nope", 401},
		{"viewer", "Bearer " + viewer, 403},
		{"operator", "Bearer " + operator, 204},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/_sw/activate", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}
