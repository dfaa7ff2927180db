package message

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatcipher/internal/model"
)

type (
	// Repo is the local message store. The decrypt path uses it to
	// short-circuit when an already-decrypted copy of a message is
	// known, and to hydrate reply context.
	Repo struct {
		collection *mongo.Collection
	}
)

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{
		collection: db.Collection("messages"),
	}
}

// GetByUniqueID returns (nil, nil) when no message with that local
// unique id is stored.
func (r *Repo) GetByUniqueID(ctx context.Context, uniqueID string) (*model.Message, error) {
	filter := bson.M{
		"unique_id": uniqueID,
	}

	var msg model.Message
	err := r.collection.FindOne(ctx, filter).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &msg, nil
}

// GetByID looks a message up by its server-assigned id, used for reply
// context hydration.
func (r *Repo) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	filter := bson.M{
		"id": id,
	}

	var msg model.Message
	err := r.collection.FindOne(ctx, filter).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &msg, nil
}

// Save upserts the message by its local unique id.
func (r *Repo) Save(ctx context.Context, msg *model.Message) error {
	filter := bson.M{
		"unique_id": msg.UniqueID,
	}

	update := bson.M{
		"$set": msg,
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}
