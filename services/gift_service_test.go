package services

import (
	"context"
	"testing"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseGiftBackend(t *testing.T, backend GiftBackend) {
	ctx := context.Background()

	gifts, err := backend.FetchAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, gifts)

	res, err := backend.Save(ctx, models.Gift{Who: "Ann", Item: "Book", Status: "Vyjasnit"})
	require.NoError(t, err)
	assert.Equal(t, models.SaveResult{Row: 2, Created: true}, res)

	res, err = backend.Save(ctx, models.Gift{Who: "Bob", Item: "Socks", Status: "Objednáno"})
	require.NoError(t, err)
	assert.Equal(t, models.SaveResult{Row: 3, Created: true}, res)

	res, err = backend.Save(ctx, models.Gift{Who: "Ann", FromWhom: "Eva", Item: "Book", Status: "Hotovo"})
	require.NoError(t, err)
	assert.Equal(t, models.SaveResult{Row: 2, Created: false}, res, "same (who, item) overwrites")

	gifts, err = backend.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, gifts, 2)
	assert.Equal(t, "Bob", gifts[0].Who, "newest first")
	assert.Equal(t, models.Gift{Who: "Ann", FromWhom: "Eva", Item: "Book", Status: "Hotovo"}, gifts[1])
}

func TestMemoryGiftStore(t *testing.T) {
	exerciseGiftBackend(t, NewMemoryGiftStore())
}

func TestGiftServicePostgres(t *testing.T) {
	db := openTestDB(t)
	exerciseGiftBackend(t, NewGiftService(db))
}

func TestIsRetryableDatabaseError(t *testing.T) {
	assert.False(t, isRetryableDatabaseError(assert.AnError))
	assert.False(t, isRetryableDatabaseError(errString("duplicate key value")))
	assert.True(t, isRetryableDatabaseError(errString("dial tcp: connection refused")))
}

type errString string

func (e errString) Error() string { return string(e) }
