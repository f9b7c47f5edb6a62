package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/clincore/clincore-backend/internal/events"
	"github.com/clincore/clincore-backend/internal/identity/domain"
	"github.com/clincore/clincore-backend/internal/identity/repository"
	"github.com/clincore/clincore-backend/pkg/errors"
	"github.com/clincore/clincore-backend/pkg/logger"
	"github.com/clincore/clincore-backend/pkg/messaging"
)

// IdentityService implements API key authentication, rotation, and tenant
// bootstrap.
type IdentityService struct {
	keys           *repository.APIKeyRepository
	usage          *repository.UsageRepository
	bootstrapToken string
	publisher      *events.Publisher
	logger         *logger.Logger
}

// NewIdentityService creates a new identity service. An empty
// bootstrapToken disables the bootstrap operation.
func NewIdentityService(
	keys *repository.APIKeyRepository,
	usage *repository.UsageRepository,
	bootstrapToken string,
	publisher *events.Publisher,
	log *logger.Logger,
) *IdentityService {
	return &IdentityService{
		keys:           keys,
		usage:          usage,
		bootstrapToken: bootstrapToken,
		publisher:      publisher,
		logger:         log,
	}
}

// HashKey returns the SHA-256 hex of the raw key. Deterministic and
// unsalted so the hash itself is the lookup token.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a fresh raw API key: 32 random bytes, base64url
// without padding.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Authenticate resolves a raw API key to a caller identity. On success it
// stamps last_used_at and appends a usage event, both off the request
// path: a metering failure must never fail an authenticated request.
func (s *IdentityService) Authenticate(ctx context.Context, rawKey, endpoint string) (*domain.Identity, error) {
	if rawKey == "" {
		return nil, errors.Unauthorized("missing X-API-Key header")
	}

	key, err := s.keys.LookupActive(ctx, HashKey(rawKey))
	if err != nil {
		return nil, err
	}

	id := &domain.Identity{
		TenantID: key.TenantID,
		APIKeyID: key.ID,
		Role:     key.Role,
	}

	go s.recordUsage(key.TenantID, key.ID, endpoint)

	return id, nil
}

// recordUsage runs detached from the request with its own deadline.
func (s *IdentityService) recordUsage(tenantID, apiKeyID, endpoint string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.keys.StampLastUsed(ctx, apiKeyID); err != nil {
		s.logger.Warn().Err(err).Str("api_key_id", apiKeyID).Msg("last_used_at stamp failed")
	}

	if err := s.usage.Record(ctx, tenantID, apiKeyID, endpoint); err != nil {
		s.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("usage_events insert failed")
	}
}

// Rotate replaces the presented key with a fresh one. Every active row
// matching the presented key is deactivated and the new raw key is
// returned exactly once.
func (s *IdentityService) Rotate(ctx context.Context, rawKey string) (*domain.RotateResponse, error) {
	if rawKey == "" {
		return nil, errors.Unauthorized("missing X-API-Key header")
	}

	oldHash := HashKey(rawKey)
	key, err := s.keys.LookupActive(ctx, oldHash)
	if err != nil {
		return nil, err
	}

	newRaw, err := GenerateKey()
	if err != nil {
		return nil, errors.Internal("failed to generate API key")
	}

	label := "rotated"
	newKey := &domain.APIKey{
		TenantID: key.TenantID,
		KeyHash:  HashKey(newRaw),
		Label:    &label,
		Role:     key.Role,
	}

	if err := s.keys.Rotate(ctx, oldHash, newKey); err != nil {
		return nil, err
	}

	s.publisher.Emit(ctx, messaging.EventAPIKeyRotated, messaging.APIKeyRotatedEvent{
		TenantID:    key.TenantID,
		NewAPIKeyID: newKey.ID,
	})

	return &domain.RotateResponse{
		APIKey:   newRaw,
		TenantID: key.TenantID,
	}, nil
}

// VerifyBootstrapToken checks the Authorization header against the
// configured bootstrap secret in constant time.
func (s *IdentityService) VerifyBootstrapToken(authorization string) error {
	if s.bootstrapToken == "" {
		return errors.Unavailable("bootstrap is disabled (BOOTSTRAP_TOKEN not set)")
	}

	expected := "Bearer " + s.bootstrapToken
	if subtle.ConstantTimeCompare([]byte(authorization), []byte(expected)) != 1 {
		return errors.Unauthorized("invalid bootstrap token")
	}
	return nil
}

// Bootstrap provisions a tenant and its first API key. Re-running with an
// existing tenant name reuses the tenant and mints an additional key, so
// the operation is safe to retry.
func (s *IdentityService) Bootstrap(ctx context.Context, authorization string, req *domain.BootstrapRequest) (*domain.BootstrapResponse, error) {
	if err := s.VerifyBootstrapToken(authorization); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.TenantName)
	if name == "" {
		return nil, errors.BadRequest("tenant_name must not be empty")
	}

	tenantID, err := s.keys.EnsureTenant(ctx, name)
	if err != nil {
		return nil, err
	}

	rawKey, err := GenerateKey()
	if err != nil {
		return nil, errors.Internal("failed to generate API key")
	}

	label := "bootstrap-" + name
	key := &domain.APIKey{
		TenantID: tenantID,
		KeyHash:  HashKey(rawKey),
		Label:    &label,
		Role:     "user",
	}
	if err := s.keys.InsertKey(ctx, key); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("api_key_id", key.ID).
		Msg("tenant bootstrapped")

	s.publisher.Emit(ctx, messaging.EventTenantBootstrapped, messaging.TenantBootstrappedEvent{
		TenantID:   tenantID,
		TenantName: name,
		APIKeyID:   key.ID,
	})

	return &domain.BootstrapResponse{
		TenantID: tenantID,
		APIKey:   rawKey,
		Message:  fmt.Sprintf("Tenant %q provisioned.", name),
	}, nil
}

// Usage returns the calling tenant's aggregated usage ledger.
func (s *IdentityService) Usage(ctx context.Context, tenantID string) (*domain.UsageStats, error) {
	return s.usage.Stats(ctx, tenantID)
}

// ListKeys returns the tenant's non-revoked keys without hashes.
func (s *IdentityService) ListKeys(ctx context.Context, tenantID string) ([]*domain.APIKey, error) {
	return s.keys.ListByTenant(ctx, tenantID)
}

// RevokeKey revokes one of the tenant's keys.
func (s *IdentityService) RevokeKey(ctx context.Context, keyID, tenantID string) (string, error) {
	return s.keys.Revoke(ctx, keyID, tenantID)
}
