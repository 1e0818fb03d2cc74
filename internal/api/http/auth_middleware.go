package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingIdentity = errors.New("missing party identity")

// requireAuth resolves the calling party. A bearer token is verified against
// the configured HMAC secret; trusted internal callers may instead pass
// X-Party-Id and X-Party-Role headers when no secret is configured or the
// request is unsigned.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		party, err := s.resolveParty(r)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withAuthParty(r.Context(), party)))
	})
}

func (s *Server) resolveParty(r *http.Request) (*AuthParty, error) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") && len(s.jwtSecret) > 0 {
		return s.partyFromToken(strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")))
	}
	if partyID := strings.TrimSpace(r.Header.Get("X-Party-Id")); partyID != "" {
		return &AuthParty{
			PartyID: partyID,
			Role:    strings.TrimSpace(r.Header.Get("X-Party-Role")),
		}, nil
	}
	return nil, errMissingIdentity
}

func (s *Server) partyFromToken(raw string) (*AuthParty, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	partyID, _ := claims["party_id"].(string)
	if partyID == "" {
		return nil, errMissingIdentity
	}
	role, _ := claims["role"].(string)
	return &AuthParty{PartyID: partyID, Role: role}, nil
}
