package middleware

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"relgraph/internal/logging"
)

// OIDCConfig controls bearer token validation.
type OIDCConfig struct {
	Enabled       bool
	IssuerURL     string
	Audience      string
	ClockSkew     time.Duration
	SkipTLSVerify bool

	// AllowInsecureIssuer permits a plain-http issuer. Test servers only.
	AllowInsecureIssuer bool
}

type authContextKey struct{}

// AuthContext carries the validated token identity.
type AuthContext struct {
	Subject  string
	Issuer   string
	Audience []string
	Claims   map[string]interface{}
}

// AuthFromContext returns the auth context stored by the OIDC middleware.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(AuthContext)
	return auth, ok
}

// OIDCAuth validates Bearer tokens against the issuer's JWKS. Requests without
// a valid token are rejected with 401.
func OIDCAuth(cfg OIDCConfig, logger *logging.Logger) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	if cfg.IssuerURL == "" || cfg.Audience == "" {
		return nil, errors.New("oidc auth enabled but issuer/audience not configured")
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 2 * time.Minute
	}

	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid oidc issuer url: %w", err)
	}
	if issuerURL.Scheme != "https" && !cfg.AllowInsecureIssuer {
		return nil, errors.New("oidc issuer url must use https")
	}
	if logger != nil && cfg.SkipTLSVerify {
		logger.Warn("oidc tls verification is disabled", slog.String("issuer", cfg.IssuerURL))
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.SkipTLSVerify},
		},
		Timeout: 10 * time.Second,
	}
	providerCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	provider, err := oidc.NewProvider(providerCtx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("initialize oidc provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.Audience})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				logging.FromContext(r.Context()).Warn("missing bearer token",
					slog.String("path", r.URL.Path))
				writeUnauthorized(w, "missing bearer token")
				return
			}

			idToken, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logging.FromContext(r.Context()).Warn("token validation failed",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path))
				writeUnauthorized(w, "invalid token")
				return
			}

			claims := map[string]interface{}{}
			if err := idToken.Claims(&claims); err != nil {
				writeUnauthorized(w, "invalid token claims")
				return
			}
			if err := validateTimeClaims(claims, cfg.ClockSkew); err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}

			subject, _ := claims["sub"].(string)
			ctx := context.WithValue(r.Context(), authContextKey{}, AuthContext{
				Subject:  subject,
				Issuer:   cfg.IssuerURL,
				Audience: extractAudience(claims),
				Claims:   claims,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func bearerToken(value string) string {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, message)
}

// validateTimeClaims re-checks exp and nbf with the configured skew. The
// verifier already enforces exact expiry; the skew widens it for clock drift
// between the issuer and this host.
func validateTimeClaims(claims map[string]interface{}, skew time.Duration) error {
	if skew <= 0 {
		return nil
	}
	now := time.Now()
	if exp, ok := numericDate(claims["exp"]); ok && now.After(exp.Add(skew)) {
		return errors.New("token expired")
	}
	if nbf, ok := numericDate(claims["nbf"]); ok && now.Add(skew).Before(nbf) {
		return errors.New("token not valid yet")
	}
	return nil
}

func numericDate(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	default:
		return time.Time{}, false
	}
}

func extractAudience(claims map[string]interface{}) []string {
	switch val := claims["aud"].(type) {
	case string:
		return []string{val}
	case []string:
		return val
	case []interface{}:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}
