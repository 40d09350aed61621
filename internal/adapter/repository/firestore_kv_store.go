package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

const viewerStateCollection = "viewer_state"

// firestoreKVStore keeps one document per viewer under viewer_state/{viewerID}
// with every key stored inside the "values" map. It lets the viewer state
// follow the user across machines.
type firestoreKVStore struct {
	client *firestore.Client
	doc    *firestore.DocumentRef
}

func NewFirestoreKVStore(client *firestore.Client, viewerID string) repository.KVStore {
	return &firestoreKVStore{
		client: client,
		doc:    client.Collection(viewerStateCollection).Doc(viewerID),
	}
}

func (s *firestoreKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	snap, err := s.doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", false, nil
		}
		return "", false, errors.Internal("Failed to read viewer state", err)
	}

	values, ok := snap.Data()["values"].(map[string]interface{})
	if !ok {
		return "", false, nil
	}
	value, ok := values[key].(string)
	return value, ok, nil
}

func (s *firestoreKVStore) Set(ctx context.Context, key, value string) error {
	_, err := s.doc.Set(ctx, map[string]interface{}{
		"values": map[string]interface{}{key: value},
	}, firestore.MergeAll)
	if err != nil {
		return errors.Internal("Failed to write viewer state", err)
	}
	return nil
}

func (s *firestoreKVStore) Delete(ctx context.Context, key string) error {
	_, err := s.doc.Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"values", key}, Value: firestore.Delete},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return errors.Internal("Failed to delete viewer state", err)
	}
	return nil
}
