package datastore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// backend is the minimal document-store surface the layer needs. The mongo
// client satisfies it in production; tests substitute an in-memory fake.
type backend interface {
	// put stores doc wholesale under id in the kind's collection, replacing
	// any previous document.
	put(ctx context.Context, kind, id string, doc bson.D) error

	// get returns the document stored under id, or ok=false if absent.
	get(ctx context.Context, kind, id string) (doc bson.D, ok bool, err error)

	// remove deletes the document stored under id, if any.
	remove(ctx context.Context, kind, id string) error

	// sample returns an arbitrary document of the kind, or ok=false if the
	// collection is empty.
	sample(ctx context.Context, kind string) (doc bson.D, ok bool, err error)

	// find runs a translated query and returns a cursor over raw documents.
	find(ctx context.Context, kind string, spec *querySpec) (docCursor, error)

	// count returns the number of documents matching a translated query,
	// honoring its skip and limit.
	count(ctx context.Context, kind string, spec *querySpec) (int64, error)

	// increment atomically adds n to the named counter in coll, creating it
	// at zero first if absent, and returns the post-increment value. The
	// backend serializes concurrent increments.
	increment(ctx context.Context, coll, name string, n int64) (int64, error)

	// listIndexKeys returns the key specification of every index on the
	// kind's collection.
	listIndexKeys(ctx context.Context, kind string) ([]bson.D, error)

	// createIndex synchronously creates an index with the given key
	// specification.
	createIndex(ctx context.Context, kind, name string, keys bson.D) error

	// close releases the underlying connection pool.
	close(ctx context.Context) error
}

// docCursor iterates raw documents from a find call.
type docCursor interface {
	next(ctx context.Context) (doc bson.D, ok bool, err error)
	close(ctx context.Context) error
}

// mongoBackend implements backend on a single MongoDB database.
type mongoBackend struct {
	client *mongo.Client
	db     *mongo.Database
}

func newMongoBackend(client *mongo.Client, database string) *mongoBackend {
	return &mongoBackend{client: client, db: client.Database(database)}
}

func (m *mongoBackend) put(ctx context.Context, kind, id string, doc bson.D) error {
	_, err := m.db.Collection(kind).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: id}}, doc,
		options.Replace().SetUpsert(true))
	return err
}

func (m *mongoBackend) get(ctx context.Context, kind, id string) (bson.D, bool, error) {
	var doc bson.D
	err := m.db.Collection(kind).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (m *mongoBackend) remove(ctx context.Context, kind, id string) error {
	_, err := m.db.Collection(kind).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	return err
}

func (m *mongoBackend) sample(ctx context.Context, kind string) (bson.D, bool, error) {
	var doc bson.D
	err := m.db.Collection(kind).FindOne(ctx, bson.D{}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (m *mongoBackend) find(ctx context.Context, kind string, spec *querySpec) (docCursor, error) {
	opts := options.Find()
	if len(spec.sort) > 0 {
		opts.SetSort(spec.sort)
	}
	if spec.skip > 0 {
		opts.SetSkip(spec.skip)
	}
	if spec.limit > 0 {
		opts.SetLimit(spec.limit)
	}
	cur, err := m.db.Collection(kind).Find(ctx, spec.filter, opts)
	if err != nil {
		return nil, err
	}
	return &mongoCursor{cur: cur}, nil
}

func (m *mongoBackend) count(ctx context.Context, kind string, spec *querySpec) (int64, error) {
	opts := options.Count()
	if spec.skip > 0 {
		opts.SetSkip(spec.skip)
	}
	if spec.limit > 0 {
		opts.SetLimit(spec.limit)
	}
	return m.db.Collection(kind).CountDocuments(ctx, spec.filter, opts)
}

func (m *mongoBackend) increment(ctx context.Context, coll, name string, n int64) (int64, error) {
	var counter struct {
		Last int64 `bson:"last"`
	}
	err := m.db.Collection(coll).FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: name}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "last", Value: n}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Last, nil
}

func (m *mongoBackend) listIndexKeys(ctx context.Context, kind string) ([]bson.D, error) {
	cur, err := m.db.Collection(kind).Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var keys []bson.D
	for cur.Next(ctx) {
		var idx struct {
			Key bson.D `bson:"key"`
		}
		if err := cur.Decode(&idx); err != nil {
			return nil, err
		}
		keys = append(keys, idx.Key)
	}
	return keys, cur.Err()
}

func (m *mongoBackend) createIndex(ctx context.Context, kind, name string, keys bson.D) error {
	_, err := m.db.Collection(kind).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetName(name),
	})
	return err
}

func (m *mongoBackend) close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// mongoCursor adapts mongo.Cursor to docCursor.
type mongoCursor struct {
	cur *mongo.Cursor
}

func (c *mongoCursor) next(ctx context.Context) (bson.D, bool, error) {
	if !c.cur.Next(ctx) {
		return nil, false, c.cur.Err()
	}
	var doc bson.D
	if err := c.cur.Decode(&doc); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (c *mongoCursor) close(ctx context.Context) error {
	return c.cur.Close(ctx)
}
