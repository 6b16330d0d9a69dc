package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"local.dev/campus-market/internal/models"
	"local.dev/campus-market/internal/store"
)

type fakeProvider struct {
	verified   bool
	signIns    int
	signOuts   []string
	verifyMail []string
	resets     []string
}

func (f *fakeProvider) SignIn(_ context.Context, email, password string) (Identity, error) {
	f.signIns++
	if password != "secret1" {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{UID: "uid-" + email, Email: email, DisplayName: "Dana", EmailVerified: f.verified, IDToken: "tok"}, nil
}

func (f *fakeProvider) SignUp(_ context.Context, email, _, name string) (Identity, error) {
	return Identity{UID: "uid-" + email, Email: email, DisplayName: name, IDToken: "tok"}, nil
}

func (f *fakeProvider) SendVerification(_ context.Context, id Identity) error {
	f.verifyMail = append(f.verifyMail, id.Email)
	return nil
}

func (f *fakeProvider) SignInWithGoogle(_ context.Context, token string) (Identity, error) {
	return Identity{UID: "g-" + token, Email: token, DisplayName: "Gita", PhotoURL: "https://img/g.png", EmailVerified: true}, nil
}

func (f *fakeProvider) SendPasswordReset(_ context.Context, email string) error {
	f.resets = append(f.resets, email)
	return nil
}

func (f *fakeProvider) SignOut(_ context.Context, id Identity) error {
	f.signOuts = append(f.signOuts, id.UID)
	return nil
}

func newSession(p AuthProvider) (*Session, *store.Memory) {
	ds := store.NewMemory()
	return New(p, ds, Options{}), ds
}

func TestLoginRejectsUnverifiedEmail(t *testing.T) {
	p := &fakeProvider{verified: false}
	s, _ := newSession(p)

	_, err := s.Login(context.Background(), "dana@example.edu", "secret1")
	assert.ErrorIs(t, err, ErrEmailNotVerified)
	assert.Equal(t, []string{"uid-dana@example.edu"}, p.signOuts)
	_, ok := s.CurrentActor()
	assert.False(t, ok)
}

func TestLoginBadCredentials(t *testing.T) {
	p := &fakeProvider{verified: true}
	s, _ := newSession(p)

	_, err := s.Login(context.Background(), "dana@example.edu", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(context.Background(), "", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, p.signIns)
}

func TestFirstLoginCreatesAccount(t *testing.T) {
	ctx := context.Background()
	s, ds := newSession(&fakeProvider{verified: true})

	var changes []bool
	s.OnActorChanged(func(_ models.Account, ok bool) { changes = append(changes, ok) })

	a, err := s.Login(ctx, "dana@example.edu", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "uid-dana@example.edu", a.ID)
	assert.Equal(t, models.RoleStudent, a.Role)
	assert.Equal(t, "UPDATE_ME", a.RegNo)
	assert.Contains(t, a.ProfilePictureURL, "ui-avatars.com")
	assert.Equal(t, []bool{true}, changes)

	row, err := ds.Get(ctx, store.Users, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dana", store.DecodeAccount(row).FullName)

	// 第二次登入讀到同一筆
	require.NoError(t, s.Logout(ctx))
	again, err := s.Login(ctx, "dana@example.edu", "secret1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)
	assert.Equal(t, []bool{true, false, true}, changes)
}

func TestAdminDomainGetsAdminRole(t *testing.T) {
	s, _ := newSession(&fakeProvider{verified: true})
	a, err := s.GoogleLogin(context.Background(), "warden@VIT.ac.in")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, a.Role)
	assert.Equal(t, "https://img/g.png", a.ProfilePictureURL)

	s2 := New(&fakeProvider{verified: true}, store.NewMemory(), Options{AdminDomain: "@campus.edu"})
	a, err = s2.GoogleLogin(context.Background(), "warden@vit.ac.in")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, a.Role)
}

func TestSignupLeavesNoActor(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	s, ds := newSession(p)

	err := s.Signup(ctx, SignupInput{FullName: "Eve", Email: "eve@example.edu", Password: "secret1", RegNo: "23BCE1", Branch: "CSE", Year: 1, HostelBlock: "D"})
	require.NoError(t, err)
	_, ok := s.CurrentActor()
	assert.False(t, ok)
	assert.Equal(t, []string{"eve@example.edu"}, p.verifyMail)
	assert.Equal(t, []string{"uid-eve@example.edu"}, p.signOuts)

	row, err := ds.Get(ctx, store.Users, "uid-eve@example.edu")
	require.NoError(t, err)
	a := store.DecodeAccount(row)
	assert.Equal(t, "23BCE1", a.RegNo)
	assert.Equal(t, "D", a.HostelBlock)

	err = s.Signup(ctx, SignupInput{FullName: "Eve", Email: "eve@example.edu", Password: "123"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRefreshAndObserve(t *testing.T) {
	ctx := context.Background()
	s, ds := newSession(&fakeProvider{verified: true})

	_, err := s.RefreshActor(ctx)
	assert.ErrorIs(t, err, ErrNoActor)

	a, err := s.Login(ctx, "dana@example.edu", "secret1")
	require.NoError(t, err)

	require.NoError(t, ds.Update(ctx, store.Users, a.ID, store.Row{"wishlist": store.ArrayUnion("i1")}))
	fresh, err := s.RefreshActor(ctx)
	require.NoError(t, err)
	assert.True(t, fresh.InWishlist("i1"))

	n := 0
	s.OnActorChanged(func(models.Account, bool) { n++ })
	other := models.Account{ID: "someone-else", FullName: "X"}
	s.Observe(other)
	assert.Equal(t, 0, n)

	fresh.HostelBlock = "Z"
	s.Observe(fresh)
	s.Observe(fresh)
	assert.Equal(t, 1, n)
	cur, _ := s.CurrentActor()
	assert.Equal(t, "Z", cur.HostelBlock)
}

func TestResetPassword(t *testing.T) {
	p := &fakeProvider{}
	s, _ := newSession(p)
	require.NoError(t, s.ResetPassword(context.Background(), " dana@example.edu "))
	assert.Equal(t, []string{"dana@example.edu"}, p.resets)
	assert.ErrorIs(t, s.ResetPassword(context.Background(), "dana"), ErrInvalidInput)
}

func TestDevAuth(t *testing.T) {
	ctx := context.Background()
	d := NewDevAuth()

	id, err := d.SignIn(ctx, "Demo_Alice@Example.edu", "anything")
	require.NoError(t, err)
	assert.Equal(t, "demo_alice@example.edu", id.UID)
	assert.True(t, id.EmailVerified)

	_, err = d.SignUp(ctx, "new@example.edu", "pw1234", "New")
	require.NoError(t, err)
	_, err = d.SignUp(ctx, "NEW@example.edu", "pw1234", "New")
	assert.ErrorIs(t, err, ErrEmailInUse)
	_, err = d.SignIn(ctx, "new@example.edu", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = d.SignInWithGoogle(ctx, "not-an-email")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestDevAuthSessionUsesSeededAccount(t *testing.T) {
	ctx := context.Background()
	ds := store.NewMemory()
	require.NoError(t, ds.SeedIfEmpty(ctx))
	s := New(NewDevAuth(), ds, Options{})

	a, err := s.Login(ctx, "demo_bob@example.edu", "x")
	require.NoError(t, err)
	assert.Equal(t, "Bob", a.FullName)
	assert.Equal(t, "ECE", a.Branch)
}
