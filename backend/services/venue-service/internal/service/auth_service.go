package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"cuehall/backend/services/venue-service/internal/models"
	"cuehall/backend/services/venue-service/internal/repository"
)

// OperatorRepository defines storage contract used by the auth service.
type OperatorRepository interface {
	Create(ctx context.Context, op *models.Operator) error
	GetByUsername(ctx context.Context, username string) (*models.Operator, error)
}

// Hasher defines password hashing contract.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// BcryptHasher implements Hasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt-backed password hasher.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password: empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h *BcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// AuthService logs operators in.
type AuthService struct {
	repo      OperatorRepository
	hasher    Hasher
	tokenizer *TokenService
	logger    *zap.Logger
}

// NewAuthService builds AuthService.
func NewAuthService(repo OperatorRepository, hasher Hasher, tokenizer *TokenService, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{repo: repo, hasher: hasher, tokenizer: tokenizer, logger: logger}
}

// EnsureOperator creates the operator unless the username already exists.
func (s *AuthService) EnsureOperator(ctx context.Context, username, password, name string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return nil
	}
	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		name = username
	}
	op := &models.Operator{ID: uuid.NewString(), Username: username, Name: name, PasswordHash: hash}
	if err := s.repo.Create(ctx, op); err != nil && !errors.Is(err, repository.ErrConflict) {
		return err
	}
	s.logger.Info("bootstrap operator ensured", zap.String("username", username))
	return nil
}

// Login authenticates an operator and produces a JWT.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *models.Operator, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return "", nil, ErrInvalidCredentials
	}

	op, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if err := s.hasher.Compare(op.PasswordHash, password); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokenizer.GenerateToken(op.ID, op.Username, op.Name)
	if err != nil {
		return "", nil, err
	}

	s.logger.Info("operator logged in", zap.String("username", op.Username))
	return token, op, nil
}
