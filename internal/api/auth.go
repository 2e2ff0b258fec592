package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirdesai22/mutualaid/internal/accounts"
	"github.com/sirdesai22/mutualaid/internal/models"
	"gorm.io/gorm"
)

// TokenTTL is how long an issued volunteer token is valid.
const TokenTTL = 30 * 24 * time.Hour

// Claims is the JWT payload. Subject holds the volunteer uuid.
type Claims struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// unexported type prevents collisions in context
type ctxKey int

const volunteerKey ctxKey = iota

// IssueToken signs an HS256 token for v valid for ttl from now.
func IssueToken(secret []byte, v *models.Volunteer, now time.Time, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("JWT_SECRET is not set")
	}
	claims := Claims{
		Name:  v.Name,
		Roles: v.Roles.Strings(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   v.UUID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (s *Server) parseToken(header string) (*Claims, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, errors.New("invalid auth header")
	}
	token, err := jwt.ParseWithClaims(parts[1], &Claims{}, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// authenticate resolves the bearer token to a live volunteer and stores it
// in the request context. Tokens of deleted volunteers stop working.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			http.Error(w, "missing Authorization header", http.StatusUnauthorized)
			return
		}
		claims, err := s.parseToken(auth)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		var v models.Volunteer
		err = s.DB.WithContext(r.Context()).Where("uuid = ? AND is_sentinel = ?", claims.Subject, false).First(&v).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "unknown volunteer", http.StatusUnauthorized)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), volunteerKey, &v)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentVolunteer returns the volunteer set by authenticate.
func currentVolunteer(r *http.Request) *models.Volunteer {
	v, _ := r.Context().Value(volunteerKey).(*models.Volunteer)
	return v
}

// require wraps h so that only volunteers holding capability c reach it.
func (s *Server) require(c accounts.Capability, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.Authz.Can(r.Context(), currentVolunteer(r), c)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusForbidden, errorBody{
				Error:   "permission_denied",
				Message: fmt.Sprintf("missing capability %s", c),
			})
			return
		}
		h(w, r)
	})
}
