package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/identitytoolkit/v1"
	"google.golang.org/api/option"
)

// FirebaseAuth 用 Identity Toolkit REST 做密碼/Google 登入，用 Admin SDK 驗 token 與登出
type FirebaseAuth struct {
	toolkit *identitytoolkit.Service
	admin   *auth.Client
	// Google IdP 交換時需要的 requestUri，只要是授權網域即可
	requestURI string
}

func NewFirebaseAuth(ctx context.Context, apiKey string, admin *auth.Client) (*FirebaseAuth, error) {
	if apiKey == "" {
		return nil, errors.New("firebase auth: api key is required")
	}
	svc, err := identitytoolkit.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("identity toolkit: %w", err)
	}
	return &FirebaseAuth{toolkit: svc, admin: admin, requestURI: "http://localhost"}, nil
}

func (f *FirebaseAuth) SignIn(ctx context.Context, email, password string) (Identity, error) {
	resp, err := f.toolkit.Accounts.SignInWithPassword(&identitytoolkit.GoogleCloudIdentitytoolkitV1SignInWithPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return Identity{}, mapToolkitError(err)
	}
	id := Identity{
		UID:         resp.LocalId,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		PhotoURL:    resp.ProfilePicture,
		IDToken:     resp.IdToken,
	}
	if id.EmailVerified, err = f.verified(ctx, resp.IdToken); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// verified 驗證 ID token 並讀 email_verified claim
func (f *FirebaseAuth) verified(ctx context.Context, idToken string) (bool, error) {
	tok, err := f.admin.VerifyIDToken(ctx, idToken)
	if err != nil {
		return false, fmt.Errorf("verify id token: %w", err)
	}
	v, _ := tok.Claims["email_verified"].(bool)
	return v, nil
}

func (f *FirebaseAuth) SignUp(ctx context.Context, email, password, displayName string) (Identity, error) {
	resp, err := f.toolkit.Accounts.SignUp(&identitytoolkit.GoogleCloudIdentitytoolkitV1SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	}).Context(ctx).Do()
	if err != nil {
		return Identity{}, mapToolkitError(err)
	}
	return Identity{
		UID:         resp.LocalId,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		IDToken:     resp.IdToken,
	}, nil
}

func (f *FirebaseAuth) SendVerification(ctx context.Context, id Identity) error {
	_, err := f.toolkit.Accounts.SendOobCode(&identitytoolkit.GoogleCloudIdentitytoolkitV1GetOobCodeRequest{
		RequestType: "VERIFY_EMAIL",
		IdToken:     id.IDToken,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("send verification: %w", mapToolkitError(err))
	}
	return nil
}

func (f *FirebaseAuth) SignInWithGoogle(ctx context.Context, googleIDToken string) (Identity, error) {
	body := url.Values{"id_token": {googleIDToken}, "providerId": {"google.com"}}
	resp, err := f.toolkit.Accounts.SignInWithIdp(&identitytoolkit.GoogleCloudIdentitytoolkitV1SignInWithIdpRequest{
		PostBody:          body.Encode(),
		RequestUri:        f.requestURI,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return Identity{}, mapToolkitError(err)
	}
	return Identity{
		UID:           resp.LocalId,
		Email:         resp.Email,
		DisplayName:   resp.DisplayName,
		PhotoURL:      resp.PhotoUrl,
		EmailVerified: resp.EmailVerified,
		IDToken:       resp.IdToken,
	}, nil
}

func (f *FirebaseAuth) SendPasswordReset(ctx context.Context, email string) error {
	_, err := f.toolkit.Accounts.SendOobCode(&identitytoolkit.GoogleCloudIdentitytoolkitV1GetOobCodeRequest{
		RequestType: "PASSWORD_RESET",
		Email:       email,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("password reset: %w", mapToolkitError(err))
	}
	return nil
}

// SignOut 撤銷 refresh token，其他裝置上的 session 也會失效
func (f *FirebaseAuth) SignOut(ctx context.Context, id Identity) error {
	if id.UID == "" {
		return nil
	}
	if err := f.admin.RevokeRefreshTokens(ctx, id.UID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

// Identity Toolkit 的錯誤碼放在 message，例如 "INVALID_PASSWORD" 或 "EMAIL_EXISTS"
func mapToolkitError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	code := gerr.Message
	if i := strings.IndexAny(code, " :"); i > 0 {
		code = code[:i]
	}
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL", "USER_DISABLED", "INVALID_IDP_RESPONSE":
		return fmt.Errorf("%w (%s)", ErrInvalidCredentials, code)
	case "EMAIL_EXISTS":
		return ErrEmailInUse
	}
	return err
}
