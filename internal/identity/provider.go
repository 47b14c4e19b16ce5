// Package identity is the local identity provider: email/password and
// federated sign-in, signed session tokens and password reset.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"shaman/internal/config"
	"shaman/internal/domain"
	"shaman/internal/store"
	"shaman/internal/validate"
)

type Persistence string

const (
	// PersistDurable sessions survive restarts ("remember me").
	PersistDurable Persistence = "durable"
	PersistSession Persistence = "session"
)

const (
	ProviderPassword = "password"
	ProviderGoogle   = "google.com"
)

type Session struct {
	Token       string      `json:"token"`
	User        domain.User `json:"user"`
	Persistence Persistence `json:"persistence"`
	ExpiresAt   time.Time   `json:"expiresAt"`
}

type Claims struct {
	jwt.RegisteredClaims
	Email       string      `json:"email"`
	Persistence Persistence `json:"persistence"`
}

// Mailer delivers password reset tokens.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

// LogMailer writes reset tokens to a logger instead of sending mail.
type LogMailer struct {
	Logger *log.Logger
}

func (m LogMailer) SendPasswordReset(_ context.Context, email, token string) error {
	logger := m.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("password reset for %s: token=%s", email, token)
	return nil
}

type Provider struct {
	Users      store.Users
	Secret     []byte
	DurableTTL time.Duration
	SessionTTL time.Duration
	ResetTTL   time.Duration
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost   int
	Mailer Mailer
	Logger *log.Logger
	Now    func() time.Time

	OAuth       *oauth2.Config
	UserinfoURL string
}

func NewProvider(users store.Users, cfg *config.Config, logger *log.Logger) *Provider {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Provider{
		Users:      users,
		Secret:     []byte(cfg.Auth.JWTSecret),
		DurableTTL: cfg.DurableTTL(),
		SessionTTL: cfg.SessionTTL(),
		ResetTTL:   cfg.ResetTTL(),
		Mailer:     LogMailer{Logger: logger},
		Logger:     logger,
		Now:        time.Now,
	}
	if cfg.OAuth.Enabled() {
		p.OAuth = oauthConfig(cfg.OAuth)
		p.UserinfoURL = cfg.OAuth.UserinfoURL
	}
	return p
}

func (p *Provider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Provider) cost() int {
	if p.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return p.Cost
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// passwordKey is what bcrypt sees. Digesting first keeps every password
// under bcrypt's 72 byte input limit.
func passwordKey(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// credentialError maps input validation failures onto provider codes.
func credentialError(err error) error {
	var verr *validate.Error
	if !errors.As(err, &verr) {
		return err
	}
	if verr.Field == "password" {
		return newError(CodeWeakPassword, verr.Message)
	}
	return newError(CodeInvalidEmail, verr.Message)
}

// SignUp creates a password account and signs it in.
func (p *Provider) SignUp(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if err := validate.SignUp(email, password); err != nil {
		return Session{}, credentialError(err)
	}
	hash, err := bcrypt.GenerateFromPassword(passwordKey(password), p.cost())
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	now := p.now().UTC().Format(time.RFC3339)
	user := domain.User{
		UID:         uuid.NewString(),
		Email:       email,
		Provider:    ProviderPassword,
		CreatedAt:   now,
		LastLoginAt: now,
	}
	if err := p.Users.InsertUser(ctx, store.Account{User: user, PasswordHash: string(hash)}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Session{}, newError(CodeEmailInUse, "email already in use")
		}
		return Session{}, err
	}
	return p.issue(user, true)
}

// SignIn checks the password and opens a session. rememberMe selects a
// durable session over one scoped to the client session.
func (p *Provider) SignIn(ctx context.Context, email, password string, rememberMe bool) (Session, error) {
	email = normalizeEmail(email)
	if err := validate.SignIn(email, password); err != nil {
		if CodeOf(credentialError(err)) == CodeWeakPassword {
			return Session{}, newError(CodeWrongPassword, err.Error())
		}
		return Session{}, credentialError(err)
	}
	acct, err := p.Users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, newError(CodeUserNotFound, "no user for email")
		}
		return Session{}, err
	}
	if acct.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), passwordKey(password)) != nil {
		return Session{}, newError(CodeWrongPassword, "wrong password")
	}
	return p.login(ctx, acct.User, rememberMe)
}

func (p *Provider) login(ctx context.Context, user domain.User, rememberMe bool) (Session, error) {
	user.LastLoginAt = p.now().UTC().Format(time.RFC3339)
	if err := p.Users.TouchUserLogin(ctx, user.UID, user.LastLoginAt); err != nil {
		return Session{}, err
	}
	return p.issue(user, rememberMe)
}

func (p *Provider) issue(user domain.User, rememberMe bool) (Session, error) {
	if len(p.Secret) == 0 {
		return Session{}, errors.New("jwt secret not configured")
	}
	persistence, ttl := PersistSession, p.SessionTTL
	if rememberMe {
		persistence, ttl = PersistDurable, p.DurableTTL
	}
	now := p.now()
	expires := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email:       user.Email,
		Persistence: persistence,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.Secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}
	return Session{Token: token, User: user, Persistence: persistence, ExpiresAt: expires.UTC()}, nil
}

func (p *Provider) parse(token string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.now))
	claims := &Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.Secret, nil
	})
	if err != nil {
		return nil, newError(CodeInvalidSession, err.Error())
	}
	if !parsed.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, newError(CodeInvalidSession, "invalid token")
	}
	return claims, nil
}

// Verify validates a session token and rejects signed-out sessions.
func (p *Provider) Verify(ctx context.Context, token string) (Claims, error) {
	claims, err := p.parse(token)
	if err != nil {
		return Claims{}, err
	}
	revoked, err := p.Users.SessionRevoked(ctx, claims.ID)
	if err != nil {
		return Claims{}, err
	}
	if revoked {
		return Claims{}, newError(CodeInvalidSession, "session signed out")
	}
	return *claims, nil
}

// SignOut revokes the session until it would have expired anyway. The
// revocation is stored so other processes and later restarts honour it.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	claims, err := p.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return err
	}
	now := p.now().UTC()
	expires := now.Add(p.DurableTTL)
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time.UTC()
	}
	return p.Users.RevokeSession(ctx, claims.ID, expires.Format(time.RFC3339), now.Format(time.RFC3339))
}

// User returns the account for uid.
func (p *Provider) User(ctx context.Context, uid string) (domain.User, error) {
	acct, err := p.Users.GetUser(ctx, uid)
	if err != nil {
		return domain.User{}, err
	}
	return acct.User, nil
}

func (p *Provider) SetEmailConsent(ctx context.Context, uid string, consent bool) error {
	return p.Users.SetEmailConsent(ctx, uid, consent)
}

// ResetPassword issues a single-use reset token and hands it to the mailer.
// Only the token hash is stored.
func (p *Provider) ResetPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := validate.Email(email); err != nil {
		return newError(CodeInvalidEmail, err.Error())
	}
	acct, err := p.Users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeUserNotFound, "no user for email")
		}
		return err
	}
	token := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	expires := p.now().Add(p.ResetTTL).UTC().Format(time.RFC3339)
	if err := p.Users.SavePasswordReset(ctx, hashToken(token), acct.User.UID, expires); err != nil {
		return err
	}
	mailer := p.Mailer
	if mailer == nil {
		mailer = LogMailer{Logger: p.Logger}
	}
	return mailer.SendPasswordReset(ctx, email, token)
}

// ConfirmPasswordReset consumes the token and sets the new password.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := validate.NewPassword(newPassword); err != nil {
		return credentialError(err)
	}
	uid, err := p.Users.ConsumePasswordReset(ctx, hashToken(token), p.now().UTC().Format(time.RFC3339))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeInvalidActionCode, "reset token invalid or expired")
		}
		return err
	}
	hash, err := bcrypt.GenerateFromPassword(passwordKey(newPassword), p.cost())
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return p.Users.SetPasswordHash(ctx, uid, string(hash))
}
