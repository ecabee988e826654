package accounts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/jive-live/jive-server/internal/app/apperr"
	"github.com/jive-live/jive-server/internal/app/domain/account"
	"github.com/jive-live/jive-server/internal/app/domain/stream"
	"github.com/jive-live/jive-server/internal/app/services/mailer"
	"github.com/jive-live/jive-server/internal/app/storage"
	"github.com/jive-live/jive-server/pkg/logger"
)

const (
	minPasswordLength = 6
	resetTokenTTL     = time.Hour
)

// Service manages registration, authentication, profiles and credentials.
type Service struct {
	store    storage.AccountStore
	mail     mailer.Sender
	log      *logger.Logger
	secret   []byte
	tokenTTL time.Duration
	resetURL string
}

// Option configures optional service behaviour.
type Option func(*Service)

// WithMailer sets the sender used for password reset mail.
func WithMailer(mail mailer.Sender) Option {
	return func(s *Service) { s.mail = mail }
}

// WithResetURL sets the base URL embedded in password reset mail.
func WithResetURL(url string) Option {
	return func(s *Service) { s.resetURL = strings.TrimRight(url, "/") }
}

// WithTokenTTL overrides the auth token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) { s.tokenTTL = ttl }
}

// New constructs an accounts service. The secret signs auth tokens and must
// match across instances.
func New(store storage.AccountStore, secret []byte, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	s := &Service{
		store:    store,
		log:      log,
		secret:   secret,
		tokenTTL: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account with its profile, credentials and default
// stream metadata, and returns a signed auth token for the new account.
func (s *Service) Register(ctx context.Context, username, email, password, name string) (account.Account, account.Profile, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)

	if username == "" {
		return account.Account{}, account.Profile{}, "", apperr.Invalid("username", "username is required")
	}
	if email == "" {
		return account.Account{}, account.Profile{}, "", apperr.Invalid("email", "email is required")
	}
	if len(password) < minPasswordLength {
		return account.Account{}, account.Profile{}, "", apperr.Invalid("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return account.Account{}, account.Profile{}, "", fmt.Errorf("hash password: %w", err)
	}

	acct := account.Account{
		Username:  username,
		Email:     email,
		StreamKey: uuid.NewString(),
	}
	prof := account.Profile{Name: name}
	info := stream.Info{Title: fmt.Sprintf("@%s's Stream", username)}

	acct, err = s.store.RegisterAccount(ctx, acct, prof, string(hash), info)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return account.Account{}, account.Profile{}, "", conflictField(err)
		}
		return account.Account{}, account.Profile{}, "", err
	}

	token, err := s.issueToken(acct)
	if err != nil {
		return account.Account{}, account.Profile{}, "", err
	}

	storedProf, err := s.store.GetProfile(ctx, acct.ID)
	if err != nil {
		return account.Account{}, account.Profile{}, "", err
	}

	s.log.WithField("account_id", acct.ID).WithField("username", acct.Username).Info("account registered")
	return acct, storedProf, token, nil
}

// conflictField maps a storage conflict onto the request field it concerns.
func conflictField(err error) error {
	field := "username"
	if strings.HasPrefix(err.Error(), "email") {
		field = "email"
	}
	return apperr.WithField(field, err)
}

// Login verifies credentials and returns the account, profile and a signed
// auth token. Accounts created through an external identity provider have no
// local password and cannot log in here.
func (s *Service) Login(ctx context.Context, email, password string) (account.Account, account.Profile, string, error) {
	acct, err := s.store.GetAccountByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, account.Profile{}, "", apperr.Unauthorized("email", "invalid email or password")
		}
		return account.Account{}, account.Profile{}, "", err
	}
	if acct.ExternalAuth {
		return account.Account{}, account.Profile{}, "", apperr.Unauthorized("email", "account uses external sign-in")
	}

	hash, err := s.store.GetPasswordHash(ctx, acct.ID)
	if err != nil {
		return account.Account{}, account.Profile{}, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return account.Account{}, account.Profile{}, "", apperr.Unauthorized("password", "invalid email or password")
	}

	prof, err := s.store.GetProfile(ctx, acct.ID)
	if err != nil {
		return account.Account{}, account.Profile{}, "", err
	}

	token, err := s.issueToken(acct)
	if err != nil {
		return account.Account{}, account.Profile{}, "", err
	}
	return acct, prof, token, nil
}

func (s *Service) issueToken(acct account.Account) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      acct.ID,
		"username": acct.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(s.tokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// VerifyToken parses a bearer token and returns the account id it belongs to.
func (s *Service) VerifyToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", apperr.Unauthorized("token", "invalid or expired token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", apperr.Unauthorized("token", "invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", apperr.Unauthorized("token", "invalid token subject")
	}
	return sub, nil
}

// GetAccount returns the account with the given id.
func (s *Service) GetAccount(ctx context.Context, id string) (account.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// GetAccountByUsername returns the account with the given username.
func (s *Service) GetAccountByUsername(ctx context.Context, username string) (account.Account, error) {
	return s.store.GetAccountByUsername(ctx, username)
}

// GetAccountByEmail returns the account registered under email.
func (s *Service) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	return s.store.GetAccountByEmail(ctx, email)
}

// GetProfile returns the profile of the given account.
func (s *Service) GetProfile(ctx context.Context, accountID string) (account.Profile, error) {
	return s.store.GetProfile(ctx, accountID)
}

// GetProfileByUsername returns the profile with the given username.
func (s *Service) GetProfileByUsername(ctx context.Context, username string) (account.Profile, error) {
	return s.store.GetProfileByUsername(ctx, username)
}

// Exists reports whether a username is taken.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	_, err := s.store.GetAccountByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Update changes the account's username, email and public profile fields.
func (s *Service) Update(ctx context.Context, id, username, email, name, picture string) (account.Account, account.Profile, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if username == "" {
		return account.Account{}, account.Profile{}, apperr.Invalid("username", "username is required")
	}
	if email == "" {
		return account.Account{}, account.Profile{}, apperr.Invalid("email", "email is required")
	}

	acct := account.Account{ID: id, Username: username, Email: email}
	prof := account.Profile{AccountID: id, Name: strings.TrimSpace(name), Picture: strings.TrimSpace(picture)}
	updated, updatedProf, err := s.store.UpdateAccount(ctx, acct, prof)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return account.Account{}, account.Profile{}, conflictField(err)
		}
		return account.Account{}, account.Profile{}, err
	}
	return updated, updatedProf, nil
}

// ChangePassword verifies the current password and replaces it.
func (s *Service) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return apperr.Invalid("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	hash, err := s.store.GetPasswordHash(ctx, accountID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(oldPassword)); err != nil {
		return apperr.Unauthorized("oldPassword", "current password is incorrect")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdatePassword(ctx, accountID, string(newHash))
}

// ForgotPassword stores a short-lived reset token on the account and mails a
// reset link to the owner.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	acct, err := s.store.GetAccountByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return err
	}

	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := s.store.SetResetToken(ctx, acct.ID, token, time.Now().Add(resetTokenTTL)); err != nil {
		return err
	}

	if s.mail != nil {
		body := fmt.Sprintf(
			"You requested a password reset for your Jive account.\n\n"+
				"Follow this link to choose a new password:\n%s/%s\n\n"+
				"The link expires in one hour. If you did not request this, ignore this mail.",
			s.resetURL, token)
		if err := s.mail.Send(ctx, acct.Email, "Reset your Jive password", body); err != nil {
			s.log.WithError(err).WithField("account_id", acct.ID).Error("failed to send reset mail")
			return fmt.Errorf("send reset mail: %w", err)
		}
	}

	s.log.WithField("account_id", acct.ID).Info("password reset requested")
	return nil
}

// ResetPassword validates a reset token and sets a new password. A
// confirmation mail is best-effort.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return apperr.Invalid("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	acct, err := s.store.GetAccountByResetToken(ctx, token)
	if err != nil {
		return apperr.Unauthorized("token", "reset link is invalid or has expired")
	}
	if acct.ResetExpires.IsZero() || time.Now().After(acct.ResetExpires) {
		return apperr.Unauthorized("token", "reset link is invalid or has expired")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, acct.ID, string(hash)); err != nil {
		return err
	}

	if s.mail != nil {
		body := fmt.Sprintf("The password for your Jive account %s has been changed.", acct.Email)
		if err := s.mail.Send(ctx, acct.Email, "Your Jive password was changed", body); err != nil {
			s.log.WithError(err).WithField("account_id", acct.ID).Warn("failed to send reset confirmation")
		}
	}
	return nil
}

// SetPushSubscription stores the browser push subscription for the account.
func (s *Service) SetPushSubscription(ctx context.Context, accountID, subscription string) error {
	return s.store.UpdatePushSubscription(ctx, accountID, strings.TrimSpace(subscription))
}
