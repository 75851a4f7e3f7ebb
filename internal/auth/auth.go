package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/davidahmann/afaap/pkg/types"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrUnknownRole   = errors.New("unknown role")
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleAuditor   Role = "auditor"
	RoleOfficer   Role = "officer"
	RoleDeveloper Role = "developer"
	RoleIngest    Role = "ingest"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAuditor, RoleOfficer, RoleDeveloper, RoleIngest:
		return true
	default:
		return false
	}
}

// Principal is the authenticated caller. ActorID is what gets written to
// the ledger.
type Principal struct {
	ActorID string `json:"actor_id"`
	Role    Role   `json:"role"`
}

func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// CanRead decides ledger read access: auditors and admins see every entry,
// everyone else only the entries they wrote.
func (p Principal) CanRead(entry types.LedgerEntry) bool {
	if p.HasRole(RoleAuditor, RoleAdmin) {
		return true
	}
	return entry.ActorID == p.ActorID
}

type Token struct {
	Token   string `yaml:"token"`
	ActorID string `yaml:"actor_id"`
	Role    Role   `yaml:"role"`
}

type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

// TokenAuthenticator resolves static bearer tokens from configuration.
type TokenAuthenticator struct {
	DevToken string
	tokens   []Token
}

func NewTokenAuthenticator(tokens []Token, devToken string) (*TokenAuthenticator, error) {
	for i, t := range tokens {
		if strings.TrimSpace(t.Token) == "" || strings.TrimSpace(t.ActorID) == "" {
			return nil, fmt.Errorf("auth.tokens[%d]: token and actor_id are required", i)
		}
		if !t.Role.Valid() {
			return nil, fmt.Errorf("auth.tokens[%d]: %w %q", i, ErrUnknownRole, t.Role)
		}
	}
	return &TokenAuthenticator{DevToken: devToken, tokens: tokens}, nil
}

// NewAuthenticatorFromEnv adds AFAAP_DEV_TOKEN, which authenticates as an
// admin named "dev".
func NewAuthenticatorFromEnv(tokens []Token) (*TokenAuthenticator, error) {
	return NewTokenAuthenticator(tokens, os.Getenv("AFAAP_DEV_TOKEN"))
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	bearer, err := extractBearer(r)
	if err != nil {
		return Principal{}, err
	}

	if a.DevToken != "" && equal(bearer, a.DevToken) {
		return Principal{ActorID: "dev", Role: RoleAdmin}, nil
	}
	for _, t := range a.tokens {
		if equal(bearer, t.Token) {
			return Principal{ActorID: t.ActorID, Role: t.Role}, nil
		}
	}
	return Principal{}, ErrInvalidToken
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
