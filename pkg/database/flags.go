package database

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const flagsCollection = "flags"

type flagDoc struct {
	Key   string `bson:"_id"`
	Value string `bson:"value"`
}

// FlagCollection persists portal flags, one document per key.
type FlagCollection struct {
	col *mongo.Collection
}

func NewFlagCollection(db *mongo.Database) *FlagCollection {
	return &FlagCollection{col: db.Collection(flagsCollection)}
}

func (f *FlagCollection) Load(ctx context.Context) (map[string]string, error) {
	cursor, err := f.col.Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []flagDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(docs))
	for _, d := range docs {
		out[d.Key] = d.Value
	}
	return out, nil
}

func (f *FlagCollection) Put(ctx context.Context, key, value string) error {
	_, err := f.col.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": value}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (f *FlagCollection) Remove(ctx context.Context, key string) error {
	_, err := f.col.DeleteOne(ctx, bson.M{"_id": key})
	return err
}
