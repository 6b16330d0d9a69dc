package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"local.dev/campus-market/internal/models"
)

func TestTablesAreBijective(t *testing.T) {
	for _, c := range AllCollections {
		tbl := TableFor(c)
		for _, f := range tbl.Fields() {
			r, ok := tbl.Remote(f.Local)
			require.True(t, ok, "%s.%s", c, f.Local)
			l, ok := tbl.Local(r)
			require.True(t, ok, "%s.%s", c, r)
			assert.Equal(t, f.Local, l)
		}
	}
}

func TestToRemoteRejectsUnknownFields(t *testing.T) {
	_, err := AccountFields.ToRemote(map[string]any{"fullName": "x", "full_name": "y"})
	assert.Error(t, err)

	row, err := AccountFields.ToRemote(map[string]any{"hostelBlock": "B"})
	require.NoError(t, err)
	assert.Equal(t, Row{"hostel_block": "B"}, row)
}

func TestDecodeParsesTimestamps(t *testing.T) {
	ts := time.Date(2024, 9, 1, 10, 30, 0, 0, time.UTC)

	fromTime := DecodeListing(Row{"id": "i1", "created_at": ts, "seller_id": "u1", "is_sold": true})
	assert.Equal(t, ts, fromTime.CreatedAt)
	assert.Equal(t, "u1", fromTime.SellerID)
	assert.True(t, fromTime.IsSold)

	fromString := DecodeMessage(Row{"id": "m1", "created_at": "2024-09-01T10:30:00Z", "is_read": false})
	assert.Equal(t, ts, fromString.CreatedAt)

	fromUnix := DecodeLostReport(Row{"id": "l1", "date_found": float64(ts.Unix())})
	assert.Equal(t, ts, fromUnix.DateFound)
}

func TestDecodeAccountReconstructsLegacyTotal(t *testing.T) {
	a := DecodeAccount(Row{"id": "u1", "rating": 4.5, "ratings_count": int64(2), "wishlist": []any{"i1", "i2"}})
	assert.Equal(t, 9.0, a.RatingTotal)
	assert.Equal(t, 2, a.RatingsCount)
	assert.Equal(t, models.RoleStudent, a.Role)
	assert.Equal(t, []string{"i1", "i2"}, a.Wishlist)
}

func TestEncodeAccountPatchOnlySendsSuppliedFields(t *testing.T) {
	branch := "MECH"
	row := EncodeAccountPatch(models.AccountPatch{Branch: &branch})
	assert.Equal(t, Row{"branch": "MECH"}, row)
}

func TestMemoryTransforms(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewMemory(WithClock(func() time.Time { return fixed }))

	id, err := m.Insert(ctx, Users, Row{"full_name": "A", "wishlist": []any{}, "ratings_count": 0})
	require.NoError(t, err)

	require.NoError(t, m.Update(ctx, Users, id, Row{"wishlist": ArrayUnion("i1")}))
	require.NoError(t, m.Update(ctx, Users, id, Row{"wishlist": ArrayUnion("i1")}))
	require.NoError(t, m.Update(ctx, Users, id, Row{"ratings_count": Increment(1)}))

	row, err := m.Get(ctx, Users, id)
	require.NoError(t, err)
	a := DecodeAccount(row)
	assert.Equal(t, []string{"i1"}, a.Wishlist)
	assert.Equal(t, 1, a.RatingsCount)
	assert.Equal(t, "A", a.FullName)

	require.NoError(t, m.Update(ctx, Users, id, Row{"wishlist": ArrayRemove("i1")}))
	row, _ = m.Get(ctx, Users, id)
	assert.Empty(t, DecodeAccount(row).Wishlist)

	lid, err := m.Insert(ctx, Items, EncodeNewListing(models.NewListing{Title: "x", Category: models.CategoryOther}))
	require.NoError(t, err)
	row, _ = m.Get(ctx, Items, lid)
	assert.Equal(t, fixed, DecodeListing(row).CreatedAt)
}

func TestMemoryNotFoundAndFaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.Delete(ctx, Items, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	err = m.Update(ctx, Items, "nope", Row{"title": "x"})
	assert.True(t, errors.Is(err, ErrNotFound))

	boom := errors.New("boom")
	m.SetFault(func(op string, c Collection, id string) error {
		if op == "fetch" && c == Claims {
			return boom
		}
		return nil
	})
	_, err = m.Fetch(ctx, Claims)
	assert.ErrorIs(t, err, boom)
	_, err = m.Fetch(ctx, Items)
	assert.NoError(t, err)
}

func TestMemorySubscribeAndCancel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	calls := 0
	cancel, err := m.Subscribe(ctx, Items, func() { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 1, m.Subscribers(Items))

	_, err = m.Insert(ctx, Items, Row{"title": "a"})
	require.NoError(t, err)
	_, err = m.Insert(ctx, Messages, Row{"content": "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	cancel()
	cancel()
	assert.Equal(t, 0, m.Subscribers(Items))
	_, _ = m.Insert(ctx, Items, Row{"title": "b"})
	assert.Equal(t, 1, calls)
}

func TestMemoryTransactIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, _ := m.Insert(ctx, Users, Row{"is_suspended": false})

	err := m.Transact(ctx, Users, id, func(cur Row) (Row, error) {
		s, _ := cur["is_suspended"].(bool)
		return Row{"is_suspended": !s}, nil
	})
	require.NoError(t, err)
	row, _ := m.Get(ctx, Users, id)
	assert.Equal(t, true, row["is_suspended"])
}

func TestMemoryPersistsToDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := NewMemory(WithDir(dir))
	id, err := m.Insert(ctx, Messages, EncodeNewMessage("a", "b", "", "hello"))
	require.NoError(t, err)

	reloaded := NewMemory(WithDir(dir))
	reloaded.Load()
	row, err := reloaded.Get(ctx, Messages, id)
	require.NoError(t, err)
	msg := DecodeMessage(row)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestSeedIfEmpty(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SeedIfEmpty(ctx))
	users, _ := m.Fetch(ctx, Users)
	items, _ := m.Fetch(ctx, Items)
	assert.Len(t, users, 2)
	assert.Len(t, items, 2)

	require.NoError(t, m.SeedIfEmpty(ctx))
	users, _ = m.Fetch(ctx, Users)
	assert.Len(t, users, 2)
}
