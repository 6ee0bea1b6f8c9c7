package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/repo"
)

const (
	apiKeyTag       = "sk"
	apiKeyPrefixLen = 8 // hex chars
	apiKeySecretLen = 32
)

// IssuedKey is returned once at creation; Key is never stored.
type IssuedKey struct {
	Key    string              `json:"key"`
	APIKey *domain.AdminAPIKey `json:"api_key"`
}

// APIKeyService issues and verifies admin API keys of the form
// sk_<prefix>_<secret>. Only a bcrypt hash of the secret is stored; the
// prefix locates the row.
type APIKeyService struct {
	DB   *gorm.DB
	Cost int // bcrypt cost; bcrypt.DefaultCost when zero
	Now  func() time.Time
}

// Create issues a key named name with the given scopes.
func (s *APIKeyService) Create(ctx context.Context, name string, scopes []string) (*IssuedKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidScopes)
	}
	scopes, err := normalizeScopes(scopes)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		prefix, secret, err := newKeyParts()
		if err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost())
		if err != nil {
			return nil, err
		}
		k := &domain.AdminAPIKey{
			ID:     uuid.NewString(),
			Name:   name,
			Prefix: prefix,
			Hash:   string(hash),
			Scopes: scopes,
		}
		err = repo.CreateAPIKey(ctx, s.DB, k)
		if errors.Is(err, repo.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &IssuedKey{Key: formatKey(prefix, secret), APIKey: k}, nil
	}
	return nil, errors.New("could not allocate a unique key prefix")
}

// List returns every key, revoked ones included.
func (s *APIKeyService) List(ctx context.Context) ([]domain.AdminAPIKey, error) {
	return repo.ListAPIKeys(ctx, s.DB)
}

// Revoke disables the key with prefix.
func (s *APIKeyService) Revoke(ctx context.Context, prefix string) error {
	err := repo.RevokeAPIKey(ctx, s.DB, strings.TrimSpace(prefix), s.now())
	if errors.Is(err, repo.ErrNotFound) {
		return ErrInvalidAPIKey
	}
	return err
}

// Verify resolves a raw key to its active record.
func (s *APIKeyService) Verify(ctx context.Context, raw string) (*domain.AdminAPIKey, error) {
	prefix, secret, ok := parseKey(raw)
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	k, err := repo.GetAPIKeyByPrefix(ctx, s.DB, prefix)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	if !k.Active() {
		return nil, ErrInvalidAPIKey
	}
	if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(secret)) != nil {
		return nil, ErrInvalidAPIKey
	}
	if err := repo.TouchAPIKey(ctx, s.DB, k.ID, s.now()); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key_prefix", prefix).Msg("touch api key")
	}
	return k, nil
}

func (s *APIKeyService) cost() int {
	if s.Cost > 0 {
		return s.Cost
	}
	return bcrypt.DefaultCost
}

func (s *APIKeyService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func newKeyParts() (prefix, secret string, err error) {
	p := make([]byte, apiKeyPrefixLen/2)
	b := make([]byte, apiKeySecretLen)
	if _, err := rand.Read(p); err != nil {
		return "", "", err
	}
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(p), base64.RawURLEncoding.EncodeToString(b), nil
}

func formatKey(prefix, secret string) string {
	return apiKeyTag + "_" + prefix + "_" + secret
}

// parseKey splits sk_<prefix>_<secret>. The secret is base64url and may
// itself contain underscores.
func parseKey(raw string) (prefix, secret string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(raw), "_", 3)
	if len(parts) != 3 || parts[0] != apiKeyTag {
		return "", "", false
	}
	if len(parts[1]) != apiKeyPrefixLen || parts[2] == "" {
		return "", "", false
	}
	if _, err := hex.DecodeString(parts[1]); err != nil {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func normalizeScopes(in []string) ([]string, error) {
	valid := make(map[string]bool, len(domain.AllScopes))
	for _, s := range domain.AllScopes {
		valid[s] = true
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		if !valid[s] {
			return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidScopes, s)
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one scope is required", ErrInvalidScopes)
	}
	return out, nil
}
