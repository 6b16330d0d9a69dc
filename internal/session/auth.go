package session

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNoActor            = errors.New("not signed in")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email is not verified; check your inbox for the verification link")
	ErrEmailInUse         = errors.New("email is already registered")
	ErrInvalidInput       = errors.New("invalid input")
)

// Identity 是 auth provider 回傳的登入結果
type Identity struct {
	UID           string
	Email         string
	DisplayName   string
	PhotoURL      string
	EmailVerified bool
	IDToken       string
}

// AuthProvider is the external sign-in service. Implementations return
// ErrInvalidCredentials for a bad email/password pair.
type AuthProvider interface {
	SignIn(ctx context.Context, email, password string) (Identity, error)
	SignUp(ctx context.Context, email, password, displayName string) (Identity, error)
	SendVerification(ctx context.Context, id Identity) error
	// SignInWithGoogle 用 Google 的 ID token 換成本服務的身分
	SignInWithGoogle(ctx context.Context, googleIDToken string) (Identity, error)
	SendPasswordReset(ctx context.Context, email string) error
	SignOut(ctx context.Context, id Identity) error
}

// pickKey 把 email/uid 正規化成身分鍵：優先用小寫 email
func pickKey(email, uid string) string {
	e := strings.TrimSpace(strings.ToLower(email))
	u := strings.TrimSpace(uid)
	if e != "" {
		return e
	}
	return u
}
