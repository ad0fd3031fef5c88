package entitlements

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws/dynamotest"
)

func TestGrantAndHas(t *testing.T) {
	fake := dynamotest.New(map[string]string{"entitlements": "entitlement_id"})
	s := NewStore(fake, "entitlements")
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	owned, err := s.Has(ctx, "u1", "ebook")
	require.NoError(t, err)
	assert.False(t, owned)

	require.NoError(t, s.Grant(ctx, "u1", "ebook", "o1", 3, 30))
	// replay keeps the first grant
	require.NoError(t, s.Grant(ctx, "u1", "ebook", "o2", 10, 0))

	owned, err = s.Has(ctx, "u1", "ebook")
	require.NoError(t, err)
	assert.True(t, owned)

	e, err := s.Get(ctx, "u1", "ebook")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "o1", e.OrderID)
	assert.Equal(t, 3, e.DownloadsRemaining)
	require.NotNil(t, e.ExpiresAt)
	assert.True(t, e.ExpiresAt.Equal(now.AddDate(0, 0, 30)))
	assert.Equal(t, 1, fake.Len("entitlements"))

	e, err = s.Get(ctx, "u2", "ebook")
	require.NoError(t, err)
	assert.Nil(t, e)
}
