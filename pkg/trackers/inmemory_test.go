package trackers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-trackflow/pkg/trackers"
)

func TestInMemoryStore_FindByIMEI(t *testing.T) {
	store := trackers.NewInMemoryStore(
		trackers.Tracker{ID: 1, IMEI: "111", OrganizationID: 10},
	)

	got, err := store.FindByIMEI(context.Background(), "111")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, int64(10), got.OrganizationID)

	_, err = store.FindByIMEI(context.Background(), "999")
	assert.ErrorIs(t, err, trackers.ErrNotFound)

	store.Remove("111")
	_, err = store.FindByIMEI(context.Background(), "111")
	assert.ErrorIs(t, err, trackers.ErrNotFound)
}

func TestInMemoryStore_ExistingIDs(t *testing.T) {
	store := trackers.NewInMemoryStore(
		trackers.Tracker{ID: 1, IMEI: "111", OrganizationID: 10},
		trackers.Tracker{ID: 2, IMEI: "222", OrganizationID: 10},
		trackers.Tracker{ID: 3, IMEI: "333", OrganizationID: 20},
	)
	ctx := context.Background()

	unscoped, err := store.ExistingIDs(ctx, nil, []int64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, unscoped)

	org := int64(10)
	scoped, err := store.ExistingIDs(ctx, &org, []int64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, scoped)

	none, err := store.ExistingIDs(ctx, &org, []int64{3, 4})
	require.NoError(t, err)
	assert.Empty(t, none)
}
