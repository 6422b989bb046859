package api

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"

	"github.com/atmx/dutch-engine/internal/address"
)

type accountKey struct{}

// Authenticator maps bearer tokens to the accounts they act for. Tokens are
// held only as SHA-256 digests.
type Authenticator struct {
	accounts map[[sha256.Size]byte]string
}

// NewAuthenticator builds an Authenticator from token -> account pairs.
func NewAuthenticator(tokens map[string]string) (*Authenticator, error) {
	a := &Authenticator{accounts: make(map[[sha256.Size]byte]string, len(tokens))}
	for token, account := range tokens {
		if token == "" {
			return nil, fmt.Errorf("empty token for account %s", account)
		}
		acct, err := address.Parse(account)
		if err != nil {
			return nil, fmt.Errorf("token account: %w", err)
		}
		a.accounts[sha256.Sum256([]byte(token))] = acct
	}
	return a, nil
}

// Middleware resolves the Authorization: Bearer header. Requests without
// the header pass through unauthenticated; an unknown token is rejected.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, "unsupported authorization scheme", http.StatusUnauthorized)
			return
		}
		account, ok := a.accounts[sha256.Sum256([]byte(token))]
		if !ok {
			writeError(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, account)))
	})
}

// AccountFrom returns the authenticated account of a request, if any.
func AccountFrom(ctx context.Context) (string, bool) {
	account, ok := ctx.Value(accountKey{}).(string)
	return account, ok
}

// actor resolves the account a mutating request acts for. The authenticated
// account wins and any account named in the body must match it. Without a
// token the body is trusted only in faucet mode.
func (s *Service) actor(w http.ResponseWriter, r *http.Request, claimed, field string) (string, bool) {
	if account, ok := AccountFrom(r.Context()); ok {
		if claimed != "" && !address.Equal(claimed, account) {
			writeError(w, field+" does not match the authenticated account", http.StatusForbidden)
			return "", false
		}
		return account, true
	}
	if !s.faucet {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return "", false
	}
	if claimed == "" {
		writeError(w, field+" is required", http.StatusBadRequest)
		return "", false
	}
	return claimed, true
}
