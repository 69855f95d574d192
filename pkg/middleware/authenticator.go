package middleware

import (
	"context"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"

	"civichub/pkg/api"
)

// Authenticator verifies the firebase id token and places the resolved
// Actor in the request context. The role rides in a custom claim; a token
// without one is a citizen.
func Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		firebaseAuth := r.Context().Value("auth").(*auth.Client)

		idToken := findToken(r, tokenFromHeader, tokenFromQuery)

		token, err := firebaseAuth.VerifyIDToken(context.Background(), idToken)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		actor := api.Actor{Id: token.UID, Role: api.RoleCitizen}
		if role, ok := token.Claims["role"].(string); ok && role != "" {
			actor.Role = api.Role(role)
		}
		if name, ok := token.Claims["name"].(string); ok {
			actor.Name = name
		}
		if email, ok := token.Claims["email"].(string); ok {
			actor.Email = email
		}

		ctx := context.WithValue(r.Context(), "UID", token.UID)
		ctx = context.WithValue(ctx, "actor", actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromContext returns the Actor the Authenticator stored.
func ActorFromContext(ctx context.Context) api.Actor {
	actor, _ := ctx.Value("actor").(api.Actor)
	return actor
}

func tokenFromHeader(r *http.Request) string {
	// Get token from authorization header.
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 7 && strings.ToUpper(bearer[0:6]) == "BEARER" {
		return bearer[7:]
	}
	return ""
}

func tokenFromQuery(r *http.Request) string {
	// Get token from query param named "token".
	return r.URL.Query().Get("token")
}

func findToken(r *http.Request, findTokenFns ...func(r *http.Request) string) string {
	var tokenString string

	for _, fn := range findTokenFns {
		tokenString = fn(r)
		if tokenString != "" {
			break
		}
	}

	return tokenString
}
