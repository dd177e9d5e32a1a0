package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/kluisz-ai/kanvas/internal/clock"
	"github.com/kluisz-ai/kanvas/internal/config"
	"github.com/kluisz-ai/kanvas/internal/integrationcfg/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/secretbox"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maskToken = "****"

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	encKey *[32]byte
}

type sealedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func New(p Params) domain.Service {
	var key *[32]byte
	if secret := strings.TrimSpace(p.Cfg.SecretConfigKey); secret != "" {
		sum := sha256.Sum256([]byte(secret))
		key = &sum
	}

	return &Service{
		db:     p.DB,
		log:    p.Log.Named("integrationcfg.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		encKey: key,
	}
}

func (s *Service) Set(ctx context.Context, req domain.SetRequest) (*domain.Response, error) {
	tenantID, err := parseID(req.TenantID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	key := strings.ToLower(strings.TrimSpace(req.IntegrationKey))
	if key == "" {
		return nil, domain.ErrInvalidKey
	}

	cfg := normalizeConfig(req.Config)
	secrets := normalizeConfig(req.Secrets)

	var sealed []byte
	if len(secrets) > 0 {
		sealed, err = s.seal(secrets)
		if err != nil {
			return nil, err
		}
	}

	var row domain.TenantIntegrationConfig
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := domain.TenantIntegrationConfig{}
		findErr := tx.Where("tenant_id = ? AND integration_key = ?", tenantID, key).
			First(&existing).Error

		now := s.clock.Now()
		switch {
		case findErr == nil:
			updates := map[string]any{
				"config":     datatypes.JSONMap(cfg),
				"updated_at": now,
			}
			if sealed != nil {
				updates["secret_config"] = sealed
			}
			if req.Enabled != nil {
				updates["is_enabled"] = *req.Enabled
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return err
			}
			return tx.Where("id = ?", existing.ID).First(&row).Error
		case findErr == gorm.ErrRecordNotFound:
			row = domain.TenantIntegrationConfig{
				ID:             s.genID.Generate(),
				TenantID:       tenantID,
				IntegrationKey: key,
				Config:         datatypes.JSONMap(cfg),
				SecretConfig:   sealed,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if req.Enabled != nil {
				row.IsEnabled = *req.Enabled
			}
			return tx.Create(&row).Error
		default:
			return findErr
		}
	})
	if err != nil {
		return nil, err
	}

	return s.toResponse(row), nil
}

func (s *Service) Get(ctx context.Context, tenantID, integrationKey string) (*domain.Response, error) {
	row, err := s.find(ctx, tenantID, integrationKey)
	if err != nil {
		return nil, err
	}
	return s.toResponse(*row), nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]domain.Response, error) {
	id, err := parseID(tenantID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var rows []domain.TenantIntegrationConfig
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", id).
		Order("integration_key asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	resp := make([]domain.Response, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, *s.toResponse(row))
	}
	return resp, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, integrationKey string) error {
	row, err := s.find(ctx, tenantID, integrationKey)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&domain.TenantIntegrationConfig{}, "id = ?", row.ID).Error
}

func (s *Service) DecryptedSecrets(ctx context.Context, tenantID, integrationKey string) (map[string]any, error) {
	row, err := s.find(ctx, tenantID, integrationKey)
	if err != nil {
		return nil, err
	}
	if len(row.SecretConfig) == 0 {
		return nil, nil
	}
	return s.open(row.SecretConfig)
}

func (s *Service) find(ctx context.Context, tenantID, integrationKey string) (*domain.TenantIntegrationConfig, error) {
	id, err := parseID(tenantID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	key := strings.ToLower(strings.TrimSpace(integrationKey))
	if key == "" {
		return nil, domain.ErrInvalidKey
	}

	var row domain.TenantIntegrationConfig
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND integration_key = ?", id, key).
		First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (s *Service) seal(secrets map[string]any) ([]byte, error) {
	if s.encKey == nil {
		return nil, domain.ErrEncryptionKeyMissing
	}

	payload, err := json.Marshal(secrets)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	sealed := sealedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce[:]),
		Ciphertext: base64.RawStdEncoding.EncodeToString(secretbox.Seal(nil, payload, &nonce, s.encKey)),
	}
	return json.Marshal(sealed)
}

func (s *Service) open(blob []byte) (map[string]any, error) {
	if s.encKey == nil {
		return nil, domain.ErrEncryptionKeyMissing
	}

	var sealed sealedPayload
	if err := json.Unmarshal(blob, &sealed); err != nil {
		return nil, domain.ErrDecryptFailed
	}

	nonceBytes, err := base64.RawStdEncoding.DecodeString(sealed.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return nil, domain.ErrDecryptFailed
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, domain.ErrDecryptFailed
	}

	var nonce [24]byte
	copy(nonce[:], nonceBytes)
	payload, ok := secretbox.Open(nil, ciphertext, &nonce, s.encKey)
	if !ok {
		return nil, domain.ErrDecryptFailed
	}

	var secrets map[string]any
	if err := json.Unmarshal(payload, &secrets); err != nil {
		return nil, domain.ErrDecryptFailed
	}
	return secrets, nil
}

func (s *Service) toResponse(row domain.TenantIntegrationConfig) *domain.Response {
	resp := &domain.Response{
		ID:             row.ID.String(),
		TenantID:       row.TenantID.String(),
		IntegrationKey: row.IntegrationKey,
		Config:         map[string]any(row.Config),
		IsEnabled:      row.IsEnabled,
		HealthStatus:   row.HealthStatus,
		LastHealthAt:   row.LastHealthCheckAt,
		UpdatedAt:      row.UpdatedAt,
	}

	if len(row.SecretConfig) > 0 {
		if secrets, err := s.open(row.SecretConfig); err == nil {
			resp.Secrets = maskSecrets(secrets)
		} else {
			s.log.Warn("stored secret config unreadable",
				zap.String("tenant_id", row.TenantID.String()),
				zap.String("integration_key", row.IntegrationKey),
				zap.Error(err),
			)
		}
	}
	return resp
}

// maskSecrets keeps the key names visible so admins can tell what is
// configured, while redacting every value.
func maskSecrets(secrets map[string]any) map[string]any {
	if len(secrets) == 0 {
		return nil
	}
	masked := make(map[string]any, len(secrets))
	for key := range secrets {
		masked[key] = maskToken
	}
	return masked
}

func normalizeConfig(cfg map[string]any) map[string]any {
	if len(cfg) == 0 {
		return nil
	}

	normalized := make(map[string]any, len(cfg))
	for key, value := range cfg {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || value == nil {
			continue
		}
		if str, ok := value.(string); ok {
			str = strings.TrimSpace(str)
			if str == "" {
				continue
			}
			normalized[trimmedKey] = str
			continue
		}
		normalized[trimmedKey] = value
	}

	if len(normalized) == 0 {
		return nil
	}
	return normalized
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
