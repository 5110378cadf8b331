//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	bc "github.com/panyam/boxconn"
)

// KindState is the Datastore kind of saved connection states
const KindState = "BoxConnectionState"

// StateStore implements bc.StateStore using Google Cloud Datastore
type StateStore struct {
	client    *datastore.Client
	namespace string
}

// NewStateStore creates a new Datastore-backed StateStore
func NewStateStore(client *datastore.Client, namespace string) *StateStore {
	return &StateStore{client: client, namespace: namespace}
}

func (s *StateStore) namespacedKey(name string) *datastore.Key {
	key := datastore.NameKey(KindState, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *StateStore) query() *datastore.Query {
	query := datastore.NewQuery(KindState).KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}
	return query
}

func (s *StateStore) Load(ctx context.Context, key string) (string, error) {
	var entity StateEntity
	if err := s.client.Get(ctx, s.namespacedKey(key), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return "", bc.ErrStateNotFound
		}
		return "", err
	}
	return entity.State, nil
}

// Store saves state under key, keeping the original CreatedAt.
func (s *StateStore) Store(ctx context.Context, key, state string) error {
	dsKey := s.namespacedKey(key)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		now := time.Now()
		var existing StateEntity
		err := tx.Get(dsKey, &existing)
		if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		created := existing.CreatedAt
		if created.IsZero() {
			created = now
		}
		_, err = tx.Put(dsKey, &StateEntity{Key: dsKey, State: state, CreatedAt: created, UpdatedAt: now})
		return err
	})
	return err
}

func (s *StateStore) Remove(ctx context.Context, key string) error {
	return s.client.Delete(ctx, s.namespacedKey(key))
}

func (s *StateStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	it := s.client.Run(ctx, s.query())
	for {
		k, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, k.Name)
	}
	return keys, nil
}

var _ bc.StateStore = (*StateStore)(nil)
