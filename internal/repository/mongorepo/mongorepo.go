// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package mongorepo is the MongoDB account store. Abandoned signups are
// reaped by a TTL index on unverifiedExpire.
package mongorepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"codeberg.org/oliverandrich/feedtools/internal/models"
	"codeberg.org/oliverandrich/feedtools/internal/repository"
)

const collectionAccounts = "accounts"

// Repository is the MongoDB account store.
type Repository struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
}

var _ repository.Store = (*Repository)(nil)

// Connect dials uri, pings the server and ensures the account indexes.
func Connect(ctx context.Context, uri, database string, timeout time.Duration) (*Repository, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(dialCtx,
		options.Client().ApplyURI(uri),
		options.Client().SetMaxConnIdleTime(time.Minute),
		options.Client().SetMaxPoolSize(20),
	)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(dialCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	repo := &Repository{client: client, db: client.Database(database), timeout: timeout}
	if err := repo.CreateIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return repo, nil
}

// Close disconnects the client.
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// NativeTTL is true: the TTL index deletes expired signups server side.
func (r *Repository) NativeTTL() bool {
	return true
}

func (r *Repository) accounts() *mongo.Collection {
	return r.db.Collection(collectionAccounts)
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func indexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// documents expire at the instant stored in unverifiedExpire
			Keys:    bson.D{{Key: "unverifiedExpire", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
}

// CreateIndexes ensures the unique email and TTL indexes exist.
func (r *Repository) CreateIndexes(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.accounts().Indexes().CreateMany(ctx, indexModels()); err != nil {
		return fmt.Errorf("create account indexes: %w", err)
	}
	return nil
}

func wrapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return repository.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %w", repository.ErrDuplicate, err)
	}
	return err
}

func (r *Repository) findOne(ctx context.Context, filter bson.M) (*models.Account, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var acc models.Account
	if err := r.accounts().FindOne(ctx, filter).Decode(&acc); err != nil {
		return nil, wrapError(err)
	}
	return &acc, nil
}

// GetAccountByEmail retrieves an account by its normalised email address.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

// GetAccountByID retrieves an account by id.
func (r *Repository) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// CreateAccount inserts acc.
func (r *Repository) CreateAccount(ctx context.Context, acc *models.Account) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	_, err := r.accounts().InsertOne(ctx, acc)
	return wrapError(err)
}

// UpdateAccount replaces the stored document with acc.
func (r *Repository) UpdateAccount(ctx context.Context, acc *models.Account) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	acc.UpdatedAt = time.Now().UTC()
	res, err := r.accounts().ReplaceOne(ctx, bson.M{"_id": acc.ID}, acc)
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteAccount removes an account by id.
func (r *Repository) DeleteAccount(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.accounts().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func expiredFilter(now time.Time) bson.M {
	return bson.M{
		"isVerified":       false,
		"unverifiedExpire": bson.M{"$lt": now.UTC()},
	}
}

// DeleteExpiredUnverified deletes abandoned signups the TTL monitor has
// not reached yet.
func (r *Repository) DeleteExpiredUnverified(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.accounts().DeleteMany(ctx, expiredFilter(now))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// SetSubscriptionExpiry sets the subscription end of one account.
func (r *Repository) SetSubscriptionExpiry(ctx context.Context, email string, expiry time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.accounts().UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{"$set": bson.M{"subscriptionExpiry": expiry.UTC(), "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ResetCounter sets a whitelisted counter to value on every account.
func (r *Repository) ResetCounter(ctx context.Context, field string, value int) (int64, error) {
	if _, ok := repository.CounterColumns[field]; !ok {
		return 0, fmt.Errorf("%w: %q", repository.ErrUnknownField, field)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.accounts().UpdateMany(ctx, bson.M{},
		bson.M{"$set": bson.M{field: value, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

type backfillStep struct {
	filter bson.M
	update bson.M
}

func backfillSteps(gameLimit int) []backfillStep {
	return []backfillStep{
		{
			filter: bson.M{"$or": bson.A{
				bson.M{"gameLimit": bson.M{"$exists": false}},
				bson.M{"gameLimit": nil},
			}},
			update: bson.M{"$set": bson.M{"gameLimit": gameLimit}},
		},
		{
			filter: bson.M{"subscriptionExpiry": bson.M{"$exists": false}},
			update: bson.M{"$set": bson.M{"subscriptionExpiry": nil}},
		},
	}
}

// BackfillDefaults adds gameLimit and subscriptionExpiry to documents
// created before those fields existed.
func (r *Repository) BackfillDefaults(ctx context.Context, gameLimit int) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var total int64
	for _, step := range backfillSteps(gameLimit) {
		res, err := r.accounts().UpdateMany(ctx, step.filter, step.update)
		if err != nil {
			return total, err
		}
		total += res.ModifiedCount
	}
	return total, nil
}
