// Package peer stores the out-of-band public keys of neighbour servers.
// server_hello is only trusted against a key from this registry, never
// against key material carried in the handshake itself.
package peer

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	Record struct {
		Address   string `bson:"address"`
		PublicKey string `bson:"public_key"` // PEM
	}

	PeerRepo struct {
		collection *mongo.Collection
	}
)

func NewPeerRepo(db *mongo.Database) *PeerRepo {
	return &PeerRepo{
		collection: db.Collection("peers"),
	}
}

func (r *PeerRepo) GetByAddress(ctx context.Context, address string) (*Record, error) {
	filter := bson.M{
		"address": address,
	}

	var rec Record
	err := r.collection.FindOne(ctx, filter).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &rec, nil
}

func (r *PeerRepo) Upsert(ctx context.Context, rec *Record) error {
	filter := bson.M{"address": rec.Address}
	update := bson.M{"$set": bson.M{"public_key": rec.PublicKey}}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (r *PeerRepo) All(ctx context.Context) ([]*Record, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []*Record
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
