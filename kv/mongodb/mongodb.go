// Package mongodb implements the durable storage contract on MongoDB. Each
// session namespace maps to a set of documents in a single collection;
// Update runs inside a MongoDB multi-document transaction, so it requires a
// replica set deployment.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"github.com/authlane/access"
)

// SessionStateCollection holds every session actor's persisted keys.
const SessionStateCollection = "session_state"

type document struct {
	ID        string `bson:"_id"`
	Namespace string `bson:"ns"`
	Key       string `bson:"key"`
	Value     []byte `bson:"value"`
}

// Backend is a MongoDB-backed access.Backend.
type Backend struct {
	client       *mongo.Client
	coll         *mongo.Collection
	maxValueSize int
}

// NewBackend connects to MongoDB and prepares the session-state collection.
// maxValueSize <= 0 disables the local size quantum (MongoDB's own document
// limit still applies).
func NewBackend(ctx context.Context, uri, dbName string, maxValueSize int) (*Backend, error) {
	log.Info().Str("db", dbName).Msg("connecting session-state backend to MongoDB")

	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongodb: ping: %w", err)
	}

	return &Backend{
		client:       client,
		coll:         client.Database(dbName).Collection(SessionStateCollection),
		maxValueSize: maxValueSize,
	}, nil
}

func (b *Backend) Namespace(id string) access.Storage {
	return &Store{backend: b, ns: id}
}

func (b *Backend) Close(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}

// Store is one namespace's view of the collection.
type Store struct {
	backend *Backend
	ns      string
}

func (s *Store) docID(key string) string {
	return s.ns + "/" + key
}

func (s *Store) get(ctx context.Context, key string) ([]byte, bool, error) {
	var doc document
	err := s.backend.coll.FindOne(ctx, bson.M{"_id": s.docID(key)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mongodb: get %q: %w", key, err)
	}
	return doc.Value, true, nil
}

func (s *Store) put(ctx context.Context, key string, value []byte) error {
	if s.backend.maxValueSize > 0 && len(value) > s.backend.maxValueSize {
		return access.ErrValueTooLarge
	}
	doc := document{ID: s.docID(key), Namespace: s.ns, Key: key, Value: value}
	_, err := s.backend.coll.ReplaceOne(ctx,
		bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb: put %q: %w", key, err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, key string) (bool, error) {
	res, err := s.backend.coll.DeleteOne(ctx, bson.M{"_id": s.docID(key)})
	if err != nil {
		return false, fmt.Errorf("mongodb: delete %q: %w", key, err)
	}
	return res.DeletedCount > 0, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.get(ctx, key)
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.put(ctx, key, value)
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	return s.delete(ctx, key)
}

func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.backend.coll.DeleteMany(ctx, bson.M{"ns": s.ns})
	if err != nil {
		return fmt.Errorf("mongodb: delete namespace %q: %w", s.ns, err)
	}
	return nil
}

// Update wraps fn in a MongoDB transaction. The session manager serializes
// writers per namespace above this layer; the transaction here provides the
// all-or-nothing commit.
func (s *Store) Update(ctx context.Context, fn func(tx access.Tx) error) error {
	sess, err := s.backend.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongodb: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(&mongoTx{ctx: sc, store: s})
	})
	return err
}

type mongoTx struct {
	ctx   context.Context
	store *Store
}

func (tx *mongoTx) Get(key string) ([]byte, bool, error) {
	return tx.store.get(tx.ctx, key)
}

func (tx *mongoTx) Put(key string, value []byte) error {
	return tx.store.put(tx.ctx, key, value)
}

func (tx *mongoTx) Delete(key string) (bool, error) {
	return tx.store.delete(tx.ctx, key)
}
