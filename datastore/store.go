package datastore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store provides datastore operations over a single MongoDB database.
// Entities of each kind live in a collection named after the kind; id
// counters live in a dedicated counter collection. A Store is safe for
// concurrent use: it holds no locks of its own, and the only serialized
// operation, id allocation, is serialized by the backend.
type Store struct {
	backend  backend
	config   Config
	registry *Registry
	log      zerolog.Logger
}

// Connect dials the configured endpoint and returns a Store.
func Connect(ctx context.Context, config Config) (*Store, error) {
	config.validate()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.uri()))
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %v", ErrBackendUnavailable, config.uri(), err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%w: pinging %s: %v", ErrBackendUnavailable, config.uri(), err)
	}
	return New(client, config), nil
}

// New creates a Store on an already-connected client.
func New(client *mongo.Client, config Config) *Store {
	config.validate()
	return &Store{
		backend: newMongoBackend(client, config.Database),
		config:  config,
		log:     config.logger(),
	}
}

// NewWithRegistry creates a Store with a declared-index registry.
func NewWithRegistry(client *mongo.Client, config Config, registry *Registry) *Store {
	s := New(client, config)
	s.registry = registry
	return s
}

// SetRegistry sets the declared-index registry.
func (s *Store) SetRegistry(registry *Registry) {
	s.registry = registry
}

// Registry returns the declared-index registry, or nil if not set.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Close releases the backend connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.backend.close(ctx)
}

// Put stores an entity wholesale, replacing any previous entity under the
// same key, and returns the entity's final key. An incomplete key is
// completed with a freshly allocated id; the returned key is the caller's
// handle to the stored entity.
func (s *Store) Put(ctx context.Context, e *Entity) (*Key, error) {
	if e == nil || e.Key == nil {
		return nil, fmt.Errorf("%w: nil entity or key", ErrInvalidEntity)
	}
	key, err := s.completeKey(ctx, e.Key)
	if err != nil {
		return nil, err
	}

	stored := &Entity{Key: key, Properties: e.Properties}
	doc, err := docForEntity(stored)
	if err != nil {
		return nil, err
	}
	id, err := EncodeKey(key)
	if err != nil {
		return nil, err
	}
	if err := s.backend.put(ctx, collectionForKey(key), id, doc); err != nil {
		return nil, fmt.Errorf("%w: put %s: %v", ErrBackendUnavailable, key, err)
	}
	return key, nil
}

// PutMulti stores entities one by one and returns their final keys. There is
// no atomicity across entities; the first failure aborts the batch.
func (s *Store) PutMulti(ctx context.Context, entities []*Entity) ([]*Key, error) {
	keys := make([]*Key, 0, len(entities))
	for _, e := range entities {
		k, err := s.Put(ctx, e)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Get fetches the entity stored under key, or ErrNoSuchEntity.
func (s *Store) Get(ctx context.Context, key *Key) (*Entity, error) {
	if err := validateKeyForWrite(key); err != nil {
		return nil, err
	}
	if key.Incomplete() {
		return nil, fmt.Errorf("%w: get with incomplete key %s,?", ErrInvalidKey, key.Kind)
	}
	id, err := EncodeKey(key)
	if err != nil {
		return nil, err
	}
	doc, ok, err := s.backend.get(ctx, collectionForKey(key), id)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrBackendUnavailable, key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchEntity, key)
	}
	return entityForDoc(doc)
}

// GetMulti fetches entities one by one, in key order.
func (s *Store) GetMulti(ctx context.Context, keys []*Key) ([]*Entity, error) {
	entities := make([]*Entity, 0, len(keys))
	for _, k := range keys {
		e, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// Delete removes the entity stored under key. Deleting an absent entity is
// not an error. The key's id is never reused.
func (s *Store) Delete(ctx context.Context, key *Key) error {
	if err := validateKeyForWrite(key); err != nil {
		return err
	}
	if key.Incomplete() {
		return fmt.Errorf("%w: delete with incomplete key %s,?", ErrInvalidKey, key.Kind)
	}
	id, err := EncodeKey(key)
	if err != nil {
		return err
	}
	if err := s.backend.remove(ctx, collectionForKey(key), id); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrBackendUnavailable, key, err)
	}
	return nil
}

// DeleteMulti removes entities one by one.
func (s *Store) DeleteMulti(ctx context.Context, keys []*Key) error {
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Run executes a query and returns an iterator over its results. In strict
// index mode a query needing an undeclared composite index fails with
// ErrIndexMissing before any backend round trip.
func (s *Store) Run(ctx context.Context, q *Query) (*Iterator, error) {
	spec, err := s.translate(ctx, q)
	if err != nil {
		return nil, err
	}
	if spec.none {
		return emptyIterator(spec), nil
	}
	docs, err := s.backend.find(ctx, spec.kind, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: query on %s: %v", ErrBackendUnavailable, spec.kind, err)
	}
	return &Iterator{docs: docs, spec: spec}, nil
}

// GetAll runs a query and drains the iterator.
func (s *Store) GetAll(ctx context.Context, q *Query) ([]*Entity, error) {
	it, err := s.Run(ctx, q)
	if err != nil {
		return nil, err
	}
	defer it.Close(ctx)

	var entities []*Entity
	for {
		e, err := it.Next(ctx)
		if err == Done {
			return entities, nil
		}
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
}

// Count returns the number of results a query would yield, honoring its
// offset and limit.
func (s *Store) Count(ctx context.Context, q *Query) (int, error) {
	spec, err := s.translate(ctx, q)
	if err != nil {
		return 0, err
	}
	if spec.none {
		return 0, nil
	}
	n, err := s.backend.count(ctx, spec.kind, spec)
	if err != nil {
		return 0, fmt.Errorf("%w: count on %s: %v", ErrBackendUnavailable, spec.kind, err)
	}
	return int(n), nil
}

// translate runs the strict-index check and query translation for one query.
func (s *Store) translate(ctx context.Context, q *Query) (*querySpec, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil query", ErrUnsupportedQuery)
	}
	required := requiredIndex(q)
	covered := required == nil || (s.registry != nil && s.registry.Covers(required))
	if s.config.StrictIndexes && !covered {
		return nil, fmt.Errorf("%w: query on %s needs index %s", ErrIndexMissing, q.kind, required)
	}

	// Translate before sampling so cap and shape violations surface even
	// when nothing of the kind exists yet.
	spec, err := translateQuery(q, translateOpts{indexCovered: covered})
	if err != nil {
		return nil, err
	}

	// Property shapes are learned from a sampled document: an empty
	// collection means an empty result, and the sample tells us which
	// properties are stored as lists.
	listProps, ok, err := s.sampleShapes(ctx, q.kind)
	if err != nil {
		return nil, err
	}
	if !ok {
		spec.none = true
		return spec, nil
	}
	if len(listProps) == 0 {
		return spec, nil
	}
	return translateQuery(q, translateOpts{listProps: listProps, indexCovered: covered})
}

// sampleShapes reports which properties of a kind are stored as lists,
// learned from one sampled document. ok is false when the collection is
// empty.
func (s *Store) sampleShapes(ctx context.Context, kind string) (map[string]bool, bool, error) {
	doc, ok, err := s.backend.sample(ctx, kind)
	if err != nil {
		return nil, false, fmt.Errorf("%w: sampling %s: %v", ErrBackendUnavailable, kind, err)
	}
	if !ok {
		return nil, false, nil
	}
	listProps := map[string]bool{}
	for _, f := range doc {
		if f.Key == docID {
			continue
		}
		if sub, isDoc := f.Value.(bson.D); isDoc {
			if class, hasClass := docString(sub, classField); hasClass && class == classList {
				listProps[f.Key] = true
			}
		}
	}
	return listProps, true, nil
}

// completeKey allocates an id for an incomplete key; complete keys pass
// through after validation.
func (s *Store) completeKey(ctx context.Context, key *Key) (*Key, error) {
	if err := validateKeyForWrite(key); err != nil {
		return nil, err
	}
	if !key.Incomplete() {
		return key, nil
	}
	id, err := s.AllocateID(ctx, key.Kind)
	if err != nil {
		return nil, err
	}
	return &Key{Kind: key.Kind, ID: id, Parent: key.Parent}, nil
}
