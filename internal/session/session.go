package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/apex/log"

	"local.dev/campus-market/internal/models"
	"local.dev/campus-market/internal/store"
)

const DefaultAdminDomain = "vit.ac.in"

type Options struct {
	// AdminDomain 此網域的 email 第一次登入時建立為 ADMIN
	AdminDomain string
}

// SignupInput 是註冊表單
type SignupInput struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	RegNo       string `json:"regNo"`
	Branch      string `json:"branch"`
	Year        int    `json:"year"`
	HostelBlock string `json:"hostelBlock"`
}

// Session resolves and caches the current actor. Listeners registered with
// OnActorChanged run after every change, outside the session's lock.
type Session struct {
	auth        AuthProvider
	ds          store.Datastore
	adminDomain string

	mu       sync.RWMutex
	identity *Identity
	actor    *models.Account

	lmu       sync.Mutex
	listeners map[uint64]func(models.Account, bool)
	nextL     uint64
}

func New(provider AuthProvider, ds store.Datastore, opts Options) *Session {
	domain := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(opts.AdminDomain), "@"))
	if domain == "" {
		domain = DefaultAdminDomain
	}
	return &Session{
		auth:        provider,
		ds:          ds,
		adminDomain: domain,
		listeners:   map[uint64]func(models.Account, bool){},
	}
}

func (s *Session) CurrentActor() (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.actor == nil {
		return models.Account{}, false
	}
	a := *s.actor
	a.Wishlist = slices.Clone(a.Wishlist)
	return a, true
}

// OnActorChanged 登入、登出、或目前帳號資料更新時呼叫 fn；ok=false 表示已登出
func (s *Session) OnActorChanged(fn func(a models.Account, ok bool)) func() {
	s.lmu.Lock()
	s.nextL++
	key := s.nextL
	s.listeners[key] = fn
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.listeners, key)
		s.lmu.Unlock()
	}
}

func (s *Session) emit() {
	a, ok := s.CurrentActor()
	s.lmu.Lock()
	keys := make([]uint64, 0, len(s.listeners))
	for k := range s.listeners {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	fns := make([]func(models.Account, bool), 0, len(keys))
	for _, k := range keys {
		fns = append(fns, s.listeners[k])
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(a, ok)
	}
}

func (s *Session) isAdminEmail(email string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(email)), "@"+s.adminDomain)
}

// ===== auth flows =====

// Login 未驗證 email 的帳號會被立即登出並回傳 ErrEmailNotVerified
func (s *Session) Login(ctx context.Context, email, password string) (models.Account, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return models.Account{}, ErrInvalidCredentials
	}
	id, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return models.Account{}, err
	}
	if !id.EmailVerified {
		if err := s.auth.SignOut(ctx, id); err != nil {
			log.WithError(err).WithField("uid", id.UID).Warn("sign out of unverified account failed")
		}
		return models.Account{}, ErrEmailNotVerified
	}
	return s.establish(ctx, id)
}

func (s *Session) GoogleLogin(ctx context.Context, googleIDToken string) (models.Account, error) {
	if googleIDToken == "" {
		return models.Account{}, ErrInvalidCredentials
	}
	id, err := s.auth.SignInWithGoogle(ctx, googleIDToken)
	if err != nil {
		return models.Account{}, err
	}
	return s.establish(ctx, id)
}

// establish 讀取（或第一次登入時建立）帳號資料並設為目前帳號
func (s *Session) establish(ctx context.Context, id Identity) (models.Account, error) {
	key := id.UID
	if key == "" {
		key = pickKey(id.Email, "")
	}
	if key == "" {
		return models.Account{}, ErrInvalidCredentials
	}

	var a models.Account
	row, err := s.ds.Get(ctx, store.Users, key)
	switch {
	case err == nil:
		a = store.DecodeAccount(row)
	case errors.Is(err, store.ErrNotFound):
		name := strings.TrimSpace(id.DisplayName)
		if name == "" {
			name = "VIT Student"
		}
		a = models.Account{
			ID:                key,
			FullName:          name,
			Email:             id.Email,
			RegNo:             "UPDATE_ME",
			Branch:            "UPDATE_ME",
			Year:              1,
			HostelBlock:       "UPDATE_ME",
			Role:              s.roleFor(id.Email),
			ProfilePictureURL: id.PhotoURL,
			Wishlist:          []string{},
		}
		if a.ProfilePictureURL == "" {
			a.ProfilePictureURL = models.DefaultAvatarURL(name)
		}
		if _, err := s.ds.Insert(ctx, store.Users, store.EncodeAccount(a)); err != nil {
			return models.Account{}, fmt.Errorf("create account: %w", err)
		}
		log.WithFields(log.Fields{"uid": key, "role": a.Role}).Info("account created on first login")
	default:
		return models.Account{}, fmt.Errorf("load account: %w", err)
	}

	s.mu.Lock()
	s.identity = &id
	s.actor = &a
	s.mu.Unlock()
	s.emit()
	return a, nil
}

func (s *Session) roleFor(email string) models.Role {
	if s.isAdminEmail(email) {
		return models.RoleAdmin
	}
	return models.RoleStudent
}

// Signup 建立帳號並寄出驗證信，結束時不會有登入中的帳號
func (s *Session) Signup(ctx context.Context, in SignupInput) error {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.TrimSpace(in.Email)
	switch {
	case in.FullName == "":
		return fmt.Errorf("%w: full name is required", ErrInvalidInput)
	case !strings.Contains(in.Email, "@"):
		return fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	case len(in.Password) < 6:
		return fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidInput)
	}

	id, err := s.auth.SignUp(ctx, in.Email, in.Password, in.FullName)
	if err != nil {
		return err
	}
	key := id.UID
	if key == "" {
		key = pickKey(id.Email, "")
	}
	a := models.Account{
		ID:                key,
		FullName:          in.FullName,
		Email:             in.Email,
		RegNo:             in.RegNo,
		Branch:            in.Branch,
		Year:              in.Year,
		HostelBlock:       in.HostelBlock,
		Role:              s.roleFor(in.Email),
		ProfilePictureURL: models.DefaultAvatarURL(in.FullName),
		Wishlist:          []string{},
	}
	if _, err := s.ds.Insert(ctx, store.Users, store.EncodeAccount(a)); err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	if err := s.auth.SendVerification(ctx, id); err != nil {
		return err
	}
	if err := s.auth.SignOut(ctx, id); err != nil {
		log.WithError(err).WithField("uid", key).Warn("sign out after signup failed")
	}
	return nil
}

func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	id := s.identity
	had := s.actor != nil
	s.identity, s.actor = nil, nil
	s.mu.Unlock()
	if !had {
		return nil
	}
	s.emit()
	if id != nil {
		if err := s.auth.SignOut(ctx, *id); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}
	return nil
}

func (s *Session) ResetPassword(ctx context.Context, email string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	return s.auth.SendPasswordReset(ctx, strings.TrimSpace(email))
}

// RefreshActor 從 datastore 重新讀取目前帳號，用在自己剛改完資料之後
func (s *Session) RefreshActor(ctx context.Context) (models.Account, error) {
	cur, ok := s.CurrentActor()
	if !ok {
		return models.Account{}, ErrNoActor
	}
	row, err := s.ds.Get(ctx, store.Users, cur.ID)
	if err != nil {
		return models.Account{}, fmt.Errorf("refresh actor: %w", err)
	}
	fresh := store.DecodeAccount(row)
	s.replace(fresh)
	return fresh, nil
}

// Observe 接收 mirror 送來的帳號資料；只有目前帳號的那一筆會被採用
func (s *Session) Observe(a models.Account) {
	s.replace(a)
}

func (s *Session) replace(a models.Account) {
	s.mu.Lock()
	if s.actor == nil || s.actor.ID != a.ID || reflect.DeepEqual(*s.actor, a) {
		s.mu.Unlock()
		return
	}
	s.actor = &a
	s.mu.Unlock()
	s.emit()
}
