package trackers

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore tracker store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreStore reads tracker registrations from a Firestore collection whose
// documents are keyed by IMEI.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a store over an injected client; the client's
// lifecycle stays with the caller.
func NewFirestoreStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")
	return &FirestoreStore{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// FindByIMEI fetches the tracker document keyed by imei.
func (s *FirestoreStore) FindByIMEI(ctx context.Context, imei string) (*Tracker, error) {
	docSnap, err := s.client.Collection(s.collectionName).Doc(imei).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("imei %s: %w", imei, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("imei", imei).Msg("Failed to get tracker document.")
		return nil, fmt.Errorf("firestore get for %s: %w", imei, err)
	}

	var tracker Tracker
	if err := docSnap.DataTo(&tracker); err != nil {
		s.logger.Error().Err(err).Str("imei", imei).Msg("Failed to map tracker document data.")
		return nil, fmt.Errorf("firestore DataTo for %s: %w", imei, err)
	}
	return &tracker, nil
}

// ExistingIDs returns the subset of ids that exist, scoped to orgID when set.
// Firestore's "in" operator takes at most 30 values, so the query is chunked.
func (s *FirestoreStore) ExistingIDs(ctx context.Context, orgID *int64, ids []int64) ([]int64, error) {
	const chunkSize = 30

	existing := make([]int64, 0, len(ids))
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := make([]any, 0, end-start)
		for _, id := range ids[start:end] {
			chunk = append(chunk, id)
		}

		query := s.client.Collection(s.collectionName).Query.Where("id", "in", chunk)
		if orgID != nil {
			query = query.Where("organization_id", "==", *orgID)
		}

		iter := query.Documents(ctx)
		for {
			docSnap, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				s.logger.Error().Err(err).Msg("Tracker existence query failed.")
				return nil, fmt.Errorf("firestore query trackers: %w", err)
			}
			var tracker Tracker
			if err := docSnap.DataTo(&tracker); err != nil {
				iter.Stop()
				return nil, fmt.Errorf("firestore DataTo for %s: %w", docSnap.Ref.ID, err)
			}
			existing = append(existing, tracker.ID)
		}
		iter.Stop()
	}
	return existing, nil
}
