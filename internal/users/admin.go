package users

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// AdminServiceConfig describes the dependencies of administrator bootstrap.
type AdminServiceConfig struct {
	Store  AdminStore
	Hasher SecretHasher
	Logger *zap.Logger
}

// AdminService creates administrator records.
type AdminService struct {
	store  AdminStore
	hasher SecretHasher
	logger *zap.Logger
}

// NewAdminService validates cfg and constructs the administrator service.
func NewAdminService(cfg AdminServiceConfig) (*AdminService, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opAdminServiceNew, "missing_store", ErrInternal, "", errors.New("admin store is required"))
	}
	if cfg.Hasher == nil {
		return nil, newServiceError(opAdminServiceNew, "missing_hasher", ErrInternal, "", errors.New("hasher is required"))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &AdminService{store: cfg.Store, hasher: cfg.Hasher, logger: logger}, nil
}

// Register hashes secret and persists a new administrator. The plaintext is never stored.
func (s *AdminService) Register(ctx context.Context, email, secret string) (AdminView, error) {
	normalizedEmail := normalizeEmail(email)
	if normalizedEmail == "" || secret == "" {
		return AdminView{}, newServiceError(opRegisterAdmin, "missing_fields", ErrValidation, "email and password are required", nil)
	}
	if !validEmail(normalizedEmail) {
		return AdminView{}, newServiceError(opRegisterAdmin, "invalid_email", ErrValidation, "email is not a valid address", nil)
	}
	if len(secret) > maxSecretLen {
		return AdminView{}, newServiceError(opRegisterAdmin, "invalid_secret", ErrValidation,
			fmt.Sprintf("password must be at most %d bytes", maxSecretLen), nil)
	}

	hashed, err := s.hasher.Hash(ctx, secret)
	if err != nil {
		s.logger.Error("admin registration failed", zap.String("reason", "hash_failed"), zap.Error(err))
		return AdminView{}, newServiceError(opRegisterAdmin, "hash_failed", ErrInternal, "", err)
	}

	admin := AdminIdentity{Email: normalizedEmail, SecretHash: hashed}
	id, err := s.store.InsertAdmin(ctx, admin)
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			return AdminView{}, newServiceError(opRegisterAdmin, "duplicate", ErrConflict, "admin already exists", err)
		}
		s.logger.Error("admin registration failed", zap.String("reason", "insert_failed"), zap.Error(err))
		return AdminView{}, newServiceError(opRegisterAdmin, "insert_failed", ErrInternal, "", err)
	}

	stored, err := s.store.FindAdminByEmail(ctx, normalizedEmail)
	if err != nil {
		admin.ID = id
		return admin.View(), nil
	}
	return stored.View(), nil
}
