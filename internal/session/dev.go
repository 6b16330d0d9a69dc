package session

import (
	"context"
	"strings"
	"sync"

	"github.com/apex/log"
)

// DevAuth 是 NO_AUTH=1 用的 provider：身分鍵就是小寫 email，所有帳號視為已驗證。
// 註冊過的 email 會檢查密碼，沒註冊過的任何密碼都接受。
type DevAuth struct {
	mu        sync.Mutex
	passwords map[string]string
}

func NewDevAuth() *DevAuth {
	return &DevAuth{passwords: map[string]string{}}
}

func (d *DevAuth) identity(email string) Identity {
	key := pickKey(email, "")
	name := key
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	return Identity{UID: key, Email: key, DisplayName: name, EmailVerified: true, IDToken: "dev:" + key}
}

func (d *DevAuth) SignIn(_ context.Context, email, password string) (Identity, error) {
	key := pickKey(email, "")
	if key == "" {
		return Identity{}, ErrInvalidCredentials
	}
	d.mu.Lock()
	want, known := d.passwords[key]
	d.mu.Unlock()
	if known && want != password {
		return Identity{}, ErrInvalidCredentials
	}
	return d.identity(key), nil
}

func (d *DevAuth) SignUp(_ context.Context, email, password, displayName string) (Identity, error) {
	key := pickKey(email, "")
	if key == "" {
		return Identity{}, ErrInvalidCredentials
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.passwords[key]; exists {
		return Identity{}, ErrEmailInUse
	}
	d.passwords[key] = password
	id := d.identity(key)
	if displayName != "" {
		id.DisplayName = displayName
	}
	return id, nil
}

func (d *DevAuth) SendVerification(_ context.Context, id Identity) error {
	log.WithField("email", id.Email).Info("dev auth: verification mail skipped")
	return nil
}

// SignInWithGoogle 開發模式直接把 token 當 email
func (d *DevAuth) SignInWithGoogle(_ context.Context, googleIDToken string) (Identity, error) {
	key := pickKey(googleIDToken, "")
	if !strings.Contains(key, "@") {
		return Identity{}, ErrInvalidCredentials
	}
	return d.identity(key), nil
}

func (d *DevAuth) SendPasswordReset(_ context.Context, email string) error {
	log.WithField("email", pickKey(email, "")).Info("dev auth: password reset mail skipped")
	return nil
}

func (d *DevAuth) SignOut(context.Context, Identity) error { return nil }
