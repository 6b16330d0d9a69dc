package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"local.dev/campus-market/internal/gateway"
	"local.dev/campus-market/internal/models"
	"local.dev/campus-market/internal/session"
	"local.dev/campus-market/internal/store"
)

const (
	alice = "alice@example.edu"
	bob   = "bob@example.edu"
	admin = "warden@vit.ac.in"
)

func newMarket(t *testing.T) (*Market, *store.Memory) {
	t.Helper()
	ds := store.NewMemory()
	m := New(Deps{Store: ds, Auth: session.NewDevAuth()})
	t.Cleanup(m.Close)
	return m, ds
}

func login(t *testing.T, m *Market, email string) models.Account {
	t.Helper()
	ctx := context.Background()
	if _, ok := m.Session.CurrentActor(); ok {
		require.NoError(t, m.Session.Logout(ctx))
	}
	a, err := m.Session.Login(ctx, email, "whatever")
	require.NoError(t, err)
	return a
}

func TestWishlistAndMessagingScenario(t *testing.T) {
	ctx := context.Background()
	m, _ := newMarket(t)

	a := login(t, m, alice)
	itemID, err := m.Gateway.AddListing(ctx, models.NewListing{
		Title:     "Calculus Textbook",
		Category:  models.CategoryTextbooks,
		Price:     300,
		Location:  "Library",
		Condition: models.ConditionGood,
	})
	require.NoError(t, err)
	l, ok := m.Mirror.ListingByID(itemID)
	require.True(t, ok)
	assert.Equal(t, a.ID, l.SellerID)

	b := login(t, m, bob)
	in, err := m.Gateway.ToggleWishlist(ctx, itemID)
	require.NoError(t, err)
	assert.True(t, in)
	assert.True(t, m.Gateway.IsInWishlist(itemID))
	_, err = m.Gateway.SendMessage(ctx, a.ID, "Is this available?", itemID)
	require.NoError(t, err)
	require.Len(t, m.Projector.Current(), 1)
	assert.Equal(t, 0, m.Projector.TotalUnread(), "sender has nothing unread")

	login(t, m, alice)
	assert.False(t, m.Gateway.IsInWishlist(itemID))
	convs := m.Projector.Current()
	require.Len(t, convs, 1)
	assert.Equal(t, b.ID, convs[0].UserID)
	assert.Equal(t, itemID, convs[0].ItemID)
	assert.Equal(t, "Calculus Textbook", convs[0].ItemTitle)
	assert.Equal(t, "Is this available?", convs[0].LastMessage)
	assert.Equal(t, 1, convs[0].UnreadCount)

	n, err := m.Gateway.MarkMessagesAsRead(ctx, b.ID, itemID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, m.Projector.TotalUnread())
	assert.Len(t, m.Projector.Thread(b.ID, itemID), 1)
}

func TestAdminDeletesReportedListing(t *testing.T) {
	ctx := context.Background()
	m, _ := newMarket(t)

	login(t, m, alice)
	itemID, err := m.Gateway.AddListing(ctx, models.NewListing{
		Title: "Suspicious Phone", Category: models.CategoryElectronics, Price: 10, Condition: models.ConditionNew,
	})
	require.NoError(t, err)

	login(t, m, bob)
	complaintID, err := m.Gateway.ReportListing(ctx, itemID, "looks stolen")
	require.NoError(t, err)
	assert.ErrorIs(t, m.Gateway.ResolveComplaint(ctx, complaintID, models.ActionDeleteItem), gateway.ErrForbidden)

	w := login(t, m, admin)
	assert.Equal(t, models.RoleAdmin, w.Role)
	require.NoError(t, m.Gateway.ResolveComplaint(ctx, complaintID, models.ActionDeleteItem))

	_, ok := m.Mirror.ListingByID(itemID)
	assert.False(t, ok)
	c, ok := m.Mirror.ComplaintByID(complaintID)
	require.True(t, ok)
	assert.Equal(t, models.ComplaintResolved, c.Status)
}

func TestLogoutTearsDownSubscriptions(t *testing.T) {
	ctx := context.Background()
	m, ds := newMarket(t)

	login(t, m, alice)
	for _, c := range store.AllCollections {
		assert.Equal(t, 1, ds.Subscribers(c), c)
	}
	assert.True(t, m.Mirror.Active())

	// 換人登入不會留下前一個帳號的訂閱
	login(t, m, bob)
	for _, c := range store.AllCollections {
		assert.Equal(t, 1, ds.Subscribers(c), c)
	}

	require.NoError(t, m.Session.Logout(ctx))
	assert.False(t, m.Mirror.Active())
	for _, c := range store.AllCollections {
		assert.Equal(t, 0, ds.Subscribers(c), c)
	}
	assert.Empty(t, m.Mirror.Listings())
	assert.Empty(t, m.Projector.Current())
}

func TestActorFollowsRemoteChanges(t *testing.T) {
	ctx := context.Background()
	m, ds := newMarket(t)

	a := login(t, m, alice)
	require.NoError(t, ds.Update(ctx, store.Users, a.ID, store.Row{"hostel_block": "Q Block"}))

	cur, ok := m.Session.CurrentActor()
	require.True(t, ok)
	assert.Equal(t, "Q Block", cur.HostelBlock)
}
