package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAudience = "relgraph-api"

// fakeIssuer serves OIDC discovery and a JWKS for a locally generated key so
// tokens minted in the test verify end to end.
func fakeIssuer(t *testing.T) (*httptest.Server, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                                srv.URL,
			"jwks_uri":                              srv.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": "test-key",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})

	return srv, key
}

func mintToken(t *testing.T, issuer string, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = issuer
	}
	if _, ok := claims["aud"]; !ok {
		claims["aud"] = testAudience
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func oidcHandler(t *testing.T, issuerURL string) http.Handler {
	t.Helper()
	mw, err := OIDCAuth(OIDCConfig{
		Enabled:             true,
		IssuerURL:           issuerURL,
		Audience:            testAudience,
		AllowInsecureIssuer: true,
	}, nil)
	require.NoError(t, err)

	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok := AuthFromContext(r.Context())
		require.True(t, ok)
		_, _ = fmt.Fprint(w, auth.Subject)
	}))
}

func TestOIDCAuthAcceptsValidToken(t *testing.T) {
	srv, key := fakeIssuer(t)
	handler := oidcHandler(t, srv.URL)

	token := mintToken(t, srv.URL, key, jwt.MapClaims{"sub": "user-1"})
	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", rec.Body.String())
}

func TestOIDCAuthRejectsMissingToken(t *testing.T) {
	srv, _ := fakeIssuer(t)
	handler := oidcHandler(t, srv.URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/graphql", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestOIDCAuthRejectsWrongAudience(t *testing.T) {
	srv, key := fakeIssuer(t)
	handler := oidcHandler(t, srv.URL)

	token := mintToken(t, srv.URL, key, jwt.MapClaims{"sub": "user-1", "aud": "other-api"})
	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOIDCAuthRejectsExpiredToken(t *testing.T) {
	srv, key := fakeIssuer(t)
	handler := oidcHandler(t, srv.URL)

	token := mintToken(t, srv.URL, key, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOIDCAuthDisabledPassesThrough(t *testing.T) {
	mw, err := OIDCAuth(OIDCConfig{}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/graphql", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOIDCAuthRequiresConfig(t *testing.T) {
	_, err := OIDCAuth(OIDCConfig{Enabled: true}, nil)
	assert.Error(t, err)
}
