package bundle

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatcipher/internal/model"
)

type (
	// Repo is the server-side store of published bundle collections,
	// keyed by user id.
	Repo struct {
		collection *mongo.Collection
	}

	record struct {
		UserID string `bson:"user_id"`
		Raw    []byte `bson:"raw"`
	}
)

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{
		collection: db.Collection("bundles"),
	}
}

// Get returns (nil, nil) when the user has published no bundles.
func (r *Repo) Get(ctx context.Context, userID string) (*model.BundleCollection, error) {
	filter := bson.M{
		"user_id": userID,
	}

	var rec record
	err := r.collection.FindOne(ctx, filter).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return model.DecodeBundleCollection(rec.Raw)
}

// Put upserts the user's full collection.
func (r *Repo) Put(ctx context.Context, col *model.BundleCollection) error {
	raw, err := col.Encode()
	if err != nil {
		return err
	}

	filter := bson.M{
		"user_id": col.UserID,
	}

	update := bson.M{
		"$set": record{UserID: col.UserID, Raw: raw},
	}

	_, err = r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}
