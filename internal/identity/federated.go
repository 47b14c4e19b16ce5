package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"shaman/internal/config"
	"shaman/internal/domain"
	"shaman/internal/store"
)

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
)

func oauthConfig(c config.OAuth) *oauth2.Config {
	endpoint := oauth2.Endpoint{AuthURL: c.AuthURL, TokenURL: c.TokenURL}
	if endpoint.AuthURL == "" {
		endpoint.AuthURL = googleAuthURL
	}
	if endpoint.TokenURL == "" {
		endpoint.TokenURL = googleTokenURL
	}
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
}

func (p *Provider) federationEnabled() error {
	if p.OAuth == nil {
		return newError(CodeNotConfigured, "federated sign-in is not configured")
	}
	return nil
}

// AuthCodeURL is where the client sends the user to pick an account.
func (p *Provider) AuthCodeURL(state string) (string, error) {
	if err := p.federationEnabled(); err != nil {
		return "", err
	}
	return p.OAuth.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// SignInWithFederatedIdentity exchanges an authorization code, looks up the
// account profile and signs the user in, creating the account on first use.
func (p *Provider) SignInWithFederatedIdentity(ctx context.Context, code string, rememberMe bool) (Session, error) {
	if err := p.federationEnabled(); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(code) == "" {
		return Session{}, newError(CodePopupClosed, "no authorization code")
	}
	tok, err := p.OAuth.Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if (errors.As(err, &rerr) && rerr.ErrorCode == "access_denied") || strings.Contains(err.Error(), "access_denied") {
			return Session{}, newError(CodePopupClosed, "sign in was cancelled")
		}
		return Session{}, fmt.Errorf("exchange authorization code: %w", err)
	}
	opts := []option.ClientOption{option.WithHTTPClient(p.OAuth.Client(ctx, tok))}
	if p.UserinfoURL != "" {
		opts = append(opts, option.WithEndpoint(p.UserinfoURL))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return Session{}, fmt.Errorf("userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return Session{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	email := normalizeEmail(info.Email)
	if email == "" {
		return Session{}, newError(CodeInvalidEmail, "identity has no email")
	}
	// Accounts are matched by email, so an unverified one could claim any account.
	if info.VerifiedEmail == nil || !*info.VerifiedEmail {
		return Session{}, newError(CodeInvalidEmail, "identity email is not verified")
	}

	acct, err := p.Users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return p.login(ctx, acct.User, rememberMe)
	case !errors.Is(err, store.ErrNotFound):
		return Session{}, err
	}
	now := p.now().UTC().Format(time.RFC3339)
	user := domain.User{
		UID:         uuid.NewString(),
		Email:       email,
		Provider:    ProviderGoogle,
		CreatedAt:   now,
		LastLoginAt: now,
	}
	if info.Name != "" {
		name := info.Name
		user.DisplayName = &name
	}
	if info.Picture != "" {
		pic := info.Picture
		user.PhotoURL = &pic
	}
	if err := p.Users.InsertUser(ctx, store.Account{User: user}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Session{}, newError(CodeEmailInUse, "email already in use")
		}
		return Session{}, err
	}
	return p.issue(user, rememberMe)
}
