package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"donation-push-backend/internal/model"
)

// A helper function to create a mock database connection.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestGetUserByID_AbsentUserIsNilNotError(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
		WithArgs("missing", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}))

	user, err := s.GetUserByID(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, user)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSubscriptionsByUser(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE user_id = \$1 ORDER BY created_at ASC`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "endpoint", "p256dh", "auth"}).
			AddRow("s1", "u1", "https://push.example.org/e1", "k1", "a1").
			AddRow("s2", "u1", "https://push.example.org/e2", "k2", "a2"))

	subs, err := s.ListSubscriptionsByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "https://push.example.org/e1", subs[0].Endpoint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSubscriptionIsScopedToOwner(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE user_id = \$1 AND endpoint = \$2`).
		WithArgs("u1", "https://push.example.org/e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.DeleteSubscription(context.Background(), "u1", "https://push.example.org/e1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSubscriptionUnknownEndpointIsNoop(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE user_id = \$1 AND endpoint = \$2`).
		WithArgs("u1", "https://push.example.org/unknown").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.DeleteSubscription(context.Background(), "u1", "https://push.example.org/unknown")
	assert.NoError(t, err, "deleting an endpoint that is not registered must succeed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// newSQLiteStore opens a real in-memory database for upsert semantics that
// sqlmock cannot express.
func newSQLiteStore(t *testing.T) Store {
	db, err := gorm.Open(sqlite.Open("file:store_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.PushSubscription{}))
	return NewGormStore(db)
}

func TestUpsertSubscriptionIsIdempotentByEndpoint(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	owner := &model.User{Email: "owner@example.org", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, owner))

	first, err := s.UpsertSubscription(ctx, &model.PushSubscription{
		UserID:    owner.ID,
		Endpoint:  "https://push.example.org/idem",
		P256DH:    "old-key",
		Auth:      "old-auth",
		UserAgent: "Firefox",
	})
	require.NoError(t, err)

	// Re-registering the same endpoint refreshes keys and user agent in
	// place instead of duplicating.
	second, err := s.UpsertSubscription(ctx, &model.PushSubscription{
		UserID:    owner.ID,
		Endpoint:  "https://push.example.org/idem",
		P256DH:    "new-key",
		Auth:      "new-auth",
		UserAgent: "Chrome",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "new-key", second.P256DH)
	assert.Equal(t, "new-auth", second.Auth)
	assert.Equal(t, "Chrome", second.UserAgent)

	subs, err := s.ListSubscriptionsByUser(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestUpsertSubscriptionNeverReassignsOwner(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	alice := &model.User{Email: "alice@example.org", PasswordHash: "x"}
	bob := &model.User{Email: "bob@example.org", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, alice))
	require.NoError(t, s.CreateUser(ctx, bob))

	_, err := s.UpsertSubscription(ctx, &model.PushSubscription{
		UserID:   alice.ID,
		Endpoint: "https://push.example.org/owned",
		P256DH:   "k",
		Auth:     "a",
	})
	require.NoError(t, err)

	stored, err := s.UpsertSubscription(ctx, &model.PushSubscription{
		UserID:   bob.ID,
		Endpoint: "https://push.example.org/owned",
		P256DH:   "k2",
		Auth:     "a2",
	})
	require.NoError(t, err)

	assert.Equal(t, alice.ID, stored.UserID, "an endpoint belongs to the user who registered it first")
	assert.Equal(t, "k2", stored.P256DH)
}
