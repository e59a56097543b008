package transportkeys

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// sealedKeySet is one document per (contact, transport). Blob is opaque
	// ciphertext produced by the key store.
	sealedKeySet struct {
		Name      string    `bson:"_id"`
		Blob      []byte    `bson:"blob"`
		UpdatedAt time.Time `bson:"updated_at"`
	}

	MongoRepo struct {
		collection *mongo.Collection
	}
)

func NewMongoRepo(db *mongo.Database) *MongoRepo {
	return &MongoRepo{
		collection: db.Collection("transport_keys"),
	}
}

// Connect dials uri and checks the server answers.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

func (r *MongoRepo) Save(ctx context.Context, name string, blob []byte) error {
	doc := sealedKeySet{Name: name, Blob: blob, UpdatedAt: time.Now().UTC()}
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": name}, doc, options.Replace().SetUpsert(true))
	return err
}

func (r *MongoRepo) Load(ctx context.Context) (map[string][]byte, error) {
	cur, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string][]byte)
	for cur.Next(ctx) {
		var doc sealedKeySet
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out[doc.Name] = doc.Blob
	}
	return out, cur.Err()
}

func (r *MongoRepo) Delete(ctx context.Context, name string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": name})
	return err
}
