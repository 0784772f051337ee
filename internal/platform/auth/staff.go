package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/checkout/internal/platform/httpx"
)

const (
	// RoleStaff grants access to the order inspection API.
	RoleStaff = "staff"

	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// StaffIdentity is the authenticated operator behind an admin request.
type StaffIdentity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole reports whether the identity carries role (case-insensitive).
func (i *StaffIdentity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type staffContextKey struct{}

// WithStaff stores the identity on ctx.
func WithStaff(ctx context.Context, identity *StaffIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, staffContextKey{}, identity)
}

// StaffFromContext returns the identity stored by RequireStaff.
func StaffFromContext(ctx context.Context) (*StaffIdentity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(staffContextKey{}).(*StaffIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// StaffAuthenticator guards admin routes with Firebase ID tokens carrying a staff role claim.
type StaffAuthenticator struct {
	verifier  TokenVerifier
	roleClaim string
	timeout   time.Duration
}

// StaffOption customises StaffAuthenticator.
type StaffOption func(*StaffAuthenticator)

// WithRoleClaim overrides the custom claim roles are read from.
func WithRoleClaim(claim string) StaffOption {
	return func(a *StaffAuthenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithVerificationTimeout bounds each token verification.
func WithVerificationTimeout(d time.Duration) StaffOption {
	return func(a *StaffAuthenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewStaffAuthenticator(verifier TokenVerifier, opts ...StaffOption) *StaffAuthenticator {
	a := &StaffAuthenticator{
		verifier:  verifier,
		roleClaim: defaultRoleClaim,
		timeout:   defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireStaff verifies the bearer token and admits callers holding any of roles.
func (a *StaffAuthenticator) RequireStaff(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed[role] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		allowed[RoleStaff] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				writeAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "staff authentication unavailable")
				return
			}

			verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
			decoded, err := a.verifier.VerifyIDToken(verifyCtx, token)
			cancel()
			if err != nil {
				code, message := "invalid_token", "firebase id token invalid"
				if firebaseauth.IsIDTokenExpired(err) {
					code, message = "token_expired", "firebase id token expired"
				}
				writeAuthError(ctx, w, http.StatusUnauthorized, code, message)
				return
			}

			identity := &StaffIdentity{
				UID:   decoded.UID,
				Email: stringClaim(decoded.Claims, "email"),
				Roles: rolesFromClaim(decoded.Claims[a.roleClaim]),
			}
			if !hasAnyRole(identity.Roles, allowed) {
				writeAuthError(ctx, w, http.StatusForbidden, "insufficient_role", "staff role required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithStaff(ctx, identity)))
		})
	}
}

func rolesFromClaim(raw any) []string {
	var values []string
	switch v := raw.(type) {
	case string:
		values = []string{v}
	case []string:
		values = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	case map[string]any:
		for key, enabled := range v {
			if b, ok := enabled.(bool); ok && b {
				values = append(values, key)
			}
		}
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		role := normaliseRole(value)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func hasAnyRole(roles []string, allowed map[string]struct{}) bool {
	for _, role := range roles {
		if _, ok := allowed[role]; ok {
			return true
		}
	}
	return false
}

func stringClaim(claims map[string]any, key string) string {
	if value, ok := claims[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
