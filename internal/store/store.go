package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"donation-push-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) (*model.PushSubscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
	DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying connection for wiring and migrations.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// CreateUser inserts a new account record.
func (s *gormStore) CreateUser(ctx context.Context, user *model.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID returns the user with the given ID, or (nil, nil) when absent.
func (s *gormStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}
	return &user, nil
}

// GetUserByEmail returns the user with the given email, or (nil, nil) when absent.
func (s *gormStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user by email: %w", err)
	}
	return &user, nil
}

// UpsertSubscription creates the subscription or, when the endpoint is
// already registered, refreshes its key material and user agent in place.
// The owning user is never reassigned on conflict. The stored record is
// re-read so the caller sees the canonical ID and owner.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) (*model.PushSubscription, error) {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "user_agent"}),
	}).Create(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	var stored model.PushSubscription
	if err := s.db.WithContext(ctx).First(&stored, "endpoint = ?", sub.Endpoint).Error; err != nil {
		return nil, fmt.Errorf("failed to read back subscription: %w", err)
	}
	return &stored, nil
}

// ListSubscriptionsByUser returns every registered device for a user.
func (s *gormStore) ListSubscriptionsByUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for user %s: %w", userID, err)
	}
	return subs, nil
}

// DeleteSubscription removes a subscription by endpoint, scoped to its owner.
// Deleting an endpoint that is not registered is a no-op success.
func (s *gormStore) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Delete(&model.PushSubscription{}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// DeleteSubscriptionByEndpoint removes a subscription regardless of owner.
// Used by the delivery engine when the push service reports the endpoint gone.
func (s *gormStore) DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).
		Where("endpoint = ?", endpoint).
		Delete(&model.PushSubscription{}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription by endpoint: %w", err)
	}
	return nil
}
