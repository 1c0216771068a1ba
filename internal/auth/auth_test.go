package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "unit-test-secret"
	testIssuer = "serenvoice.identity"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "alice",
		"iss":    testIssuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeActivitiesRead, ScopeActivitiesWrite},
	})

	claims, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
	require.True(t, claims.HasScope(ScopeActivitiesRead))
	require.True(t, claims.HasScope(ScopeActivitiesWrite))
	require.False(t, claims.HasScope("groups:write"))
}

func TestParseRejectsBadTokens(t *testing.T) {
	cfg := Config{Secret: testSecret, Issuer: testIssuer}

	_, err := Parse("", cfg)
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = Parse("not-a-jwt", cfg)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired := signToken(t, jwt.MapClaims{
		"sub": "alice",
		"iss": testIssuer,
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err = Parse(expired, cfg)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := signToken(t, jwt.MapClaims{
		"sub": "alice",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = Parse(wrongIssuer, cfg)
	require.ErrorIs(t, err, ErrInvalidToken)

	noSubject := signToken(t, jwt.MapClaims{
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = Parse(noSubject, cfg)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseScopesFromSpaceSeparatedString(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "alice",
		"iss":    testIssuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": "activities:read activities:write",
	})

	claims, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeActivitiesRead))
	require.True(t, claims.HasScope(ScopeActivitiesWrite))
}

func TestMiddlewareSkipperAndRejection(t *testing.T) {
	cfg := Config{Secret: testSecret, Issuer: testIssuer}
	skipper := func(r *http.Request) bool { return r.URL.Path == "/healthz" }
	middleware := NewMiddleware(cfg, skipper)

	var sawClaims *Claims
	handler := middleware.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawClaims, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/activities", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	signed := signToken(t, jwt.MapClaims{
		"sub": "alice",
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/activities", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, sawClaims)
	require.Equal(t, "alice", sawClaims.Subject)
}

func TestClaimsFromHeaderSchemes(t *testing.T) {
	cfg := Config{Secret: testSecret, Issuer: testIssuer}
	signed := signToken(t, jwt.MapClaims{
		"sub": "alice",
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := claimsFromHeader("bearer "+signed, cfg)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)

	_, err = claimsFromHeader("", cfg)
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = claimsFromHeader("Basic dXNlcjpwYXNz", cfg)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = claimsFromHeader(signed, cfg)
	require.ErrorIs(t, err, ErrInvalidToken)
}
