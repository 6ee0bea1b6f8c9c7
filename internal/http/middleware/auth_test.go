package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.Claims, method jwt.SigningMethod, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"email": "a@b.co",
		"iss":   "https://auth.example.com/auth/v1",
		"aud":   "authenticated",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func authRouter(opts AuthOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireUser(opts))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": UserID(c), "email": UserEmail(c)})
	})
	return r
}

func doAuth(r http.Handler, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRequireUser_AcceptsValidToken(t *testing.T) {
	r := authRouter(AuthOptions{Secret: testSecret, Issuer: "https://auth.example.com/auth/v1", Audience: "authenticated"})
	tok := signToken(t, validClaims(), jwt.SigningMethodHS256, testSecret)

	w := doAuth(r, "bearer "+tok)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if body := w.Body.String(); body != `{"email":"a@b.co","id":"user-1"}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestRequireUser_Rejections(t *testing.T) {
	r := authRouter(AuthOptions{Secret: testSecret, Issuer: "https://auth.example.com/auth/v1", Audience: "authenticated"})

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	noExp := validClaims()
	delete(noExp, "exp")
	wrongIss := validClaims()
	wrongIss["iss"] = "https://evil.example.com"
	wrongAud := validClaims()
	wrongAud["aud"] = "anon"
	noSub := validClaims()
	delete(noSub, "sub")

	cases := map[string]string{
		"missing header":  "",
		"not bearer":      "Basic abc",
		"empty bearer":    "Bearer   ",
		"garbage":         "Bearer not-a-jwt",
		"expired":         "Bearer " + signToken(t, expired, jwt.SigningMethodHS256, testSecret),
		"no exp":          "Bearer " + signToken(t, noExp, jwt.SigningMethodHS256, testSecret),
		"wrong issuer":    "Bearer " + signToken(t, wrongIss, jwt.SigningMethodHS256, testSecret),
		"wrong audience":  "Bearer " + signToken(t, wrongAud, jwt.SigningMethodHS256, testSecret),
		"no subject":      "Bearer " + signToken(t, noSub, jwt.SigningMethodHS256, testSecret),
		"wrong secret":    "Bearer " + signToken(t, validClaims(), jwt.SigningMethodHS256, []byte("other")),
		"other algorithm": "Bearer " + signToken(t, validClaims(), jwt.SigningMethodHS512, testSecret),
	}
	for name, h := range cases {
		if w := doAuth(r, h); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d; want 401", name, w.Code)
		}
	}
}

func TestRequireUser_OptionalIssuerAndAudience(t *testing.T) {
	r := authRouter(AuthOptions{Secret: testSecret})
	c := validClaims()
	delete(c, "iss")
	delete(c, "aud")
	if w := doAuth(r, "Bearer "+signToken(t, c, jwt.SigningMethodHS256, testSecret)); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := bearerToken("BEARER abc "); !ok || tok != "abc" {
		t.Fatalf("bearerToken = %q %v", tok, ok)
	}
	if _, ok := bearerToken("Bearer"); ok {
		t.Fatalf("bare scheme accepted")
	}
}
