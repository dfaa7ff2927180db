package identity

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatcipher/internal/model"
)

type (
	// Repo persists the local device's SenderDeviceIdentity. One
	// identity per (user, installation); never regenerated while valid.
	Repo struct {
		collection *mongo.Collection
	}
)

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{
		collection: db.Collection("identities"),
	}
}

// Get returns (nil, nil) when no identity has been created yet.
func (r *Repo) Get(ctx context.Context, userID string) (*model.SenderDeviceIdentity, error) {
	filter := bson.M{
		"user_id": userID,
	}

	var id model.SenderDeviceIdentity
	err := r.collection.FindOne(ctx, filter).Decode(&id)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	bundle, err := model.DecodeDeviceBundle(id.RawBundle)
	if err != nil {
		return nil, err
	}
	id.Bundle = bundle

	return &id, nil
}

// Save upserts the identity by user id.
func (r *Repo) Save(ctx context.Context, id *model.SenderDeviceIdentity) error {
	raw, err := id.Bundle.Encode()
	if err != nil {
		return err
	}
	id.RawBundle = raw

	filter := bson.M{
		"user_id": id.UserID,
	}

	update := bson.M{
		"$set": id,
	}

	_, err = r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}
