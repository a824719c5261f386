package realtime

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreUserResolver resolves organization scope from a Firestore users
// collection keyed by JWT subject. A document without an organization_id is
// an unscoped user.
type FirestoreUserResolver struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreUserResolver creates a resolver over an injected client.
func NewFirestoreUserResolver(client *firestore.Client, collectionName string, logger zerolog.Logger) (*FirestoreUserResolver, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	return &FirestoreUserResolver{
		client:         client,
		collectionName: collectionName,
		logger:         logger.With().Str("component", "FirestoreUserResolver").Logger(),
	}, nil
}

// ResolveOrganization implements UserResolver.
func (r *FirestoreUserResolver) ResolveOrganization(ctx context.Context, subject string) (*int64, error) {
	docSnap, err := r.client.Collection(r.collectionName).Doc(subject).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("unknown user %s: %w", subject, ErrUnauthorized)
		}
		r.logger.Error().Err(err).Str("user", subject).Msg("Failed to get user document.")
		return nil, fmt.Errorf("firestore get for user %s: %w", subject, err)
	}

	var user struct {
		OrganizationID *int64 `firestore:"organization_id"`
	}
	if err := docSnap.DataTo(&user); err != nil {
		return nil, fmt.Errorf("firestore DataTo for user %s: %w", subject, err)
	}
	return user.OrganizationID, nil
}
