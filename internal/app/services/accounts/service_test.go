package accounts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jive-live/jive-server/internal/app/apperr"
	"github.com/jive-live/jive-server/internal/app/storage"
	"github.com/jive-live/jive-server/internal/app/storage/memory"
)

type fakeMailer struct {
	to      []string
	subject []string
	body    []string
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.to = append(m.to, to)
	m.subject = append(m.subject, subject)
	m.body = append(m.body, body)
	return nil
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	return New(memory.New(), []byte("test-secret"), nil, opts...)
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc := newTestService(t)

	acct, prof, token, err := svc.Register(context.Background(), "alice", "alice@example.com", "secret1", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acct.ID == "" {
		t.Fatal("account id not assigned")
	}
	if acct.StreamKey == "" {
		t.Fatal("stream key not generated")
	}
	if prof.Username != "alice" {
		t.Fatalf("profile username not set: %q", prof.Username)
	}
	if token == "" {
		t.Fatal("no token issued")
	}

	verifiedID, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if verifiedID != acct.ID {
		t.Fatalf("token subject %q, want %q", verifiedID, acct.ID)
	}

	_, _, loginToken, err := svc.Login(context.Background(), "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loginToken == "" {
		t.Fatal("login issued no token")
	}

	if _, _, _, err := svc.Login(context.Background(), "alice@example.com", "wrong-pass"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("wrong password: got %v, want unauthorized", err)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := newTestService(t)

	if _, _, _, err := svc.Register(context.Background(), "", "a@b.com", "secret1", ""); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("empty username: got %v", err)
	}
	if _, _, _, err := svc.Register(context.Background(), "bob", "b@b.com", "short", ""); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("short password: got %v", err)
	}
}

func TestService_RegisterConflicts(t *testing.T) {
	svc := newTestService(t)

	if _, _, _, err := svc.Register(context.Background(), "alice", "alice@example.com", "secret1", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, _, _, err := svc.Register(context.Background(), "alice", "other@example.com", "secret1", "")
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("duplicate username: got %v, want conflict", err)
	}
	var fe *apperr.FieldError
	if !errors.As(err, &fe) || fe.Field != "username" {
		t.Fatalf("conflict not attributed to username field: %v", err)
	}

	_, _, _, err = svc.Register(context.Background(), "alice2", "alice@example.com", "secret1", "")
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("duplicate email: got %v, want conflict", err)
	}
	if !errors.As(err, &fe) || fe.Field != "email" {
		t.Fatalf("conflict not attributed to email field: %v", err)
	}
}

func TestService_VerifyTokenRejectsGarbage(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.VerifyToken("not-a-token"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("garbage token: got %v, want unauthorized", err)
	}

	other := New(memory.New(), []byte("different-secret"), nil)
	_, _, token, err := other.Register(context.Background(), "eve", "eve@example.com", "secret1", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.VerifyToken(token); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("foreign token: got %v, want unauthorized", err)
	}
}

func TestService_ChangePassword(t *testing.T) {
	svc := newTestService(t)
	acct, _, _, err := svc.Register(context.Background(), "alice", "alice@example.com", "secret1", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.ChangePassword(context.Background(), acct.ID, "wrong", "next-secret"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("wrong old password: got %v", err)
	}
	if err := svc.ChangePassword(context.Background(), acct.ID, "secret1", "next-secret"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, _, _, err := svc.Login(context.Background(), "alice@example.com", "next-secret"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestService_PasswordResetFlow(t *testing.T) {
	mail := &fakeMailer{}
	svc := New(memory.New(), []byte("test-secret"), nil, WithMailer(mail), WithResetURL("https://jive.live/reset"))

	_, _, _, err := svc.Register(context.Background(), "alice", "alice@example.com", "secret1", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.ForgotPassword(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	if len(mail.body) != 1 {
		t.Fatalf("expected one reset mail, got %d", len(mail.body))
	}

	// The token is the last path segment of the reset link.
	var token string
	for _, line := range strings.Split(mail.body[0], "\n") {
		if strings.HasPrefix(line, "https://jive.live/reset/") {
			token = strings.TrimPrefix(line, "https://jive.live/reset/")
		}
	}
	if token == "" {
		t.Fatalf("no reset link in mail body: %q", mail.body[0])
	}

	if err := svc.ResetPassword(context.Background(), token, "brand-new-pass"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if _, _, _, err := svc.Login(context.Background(), "alice@example.com", "brand-new-pass"); err != nil {
		t.Fatalf("login after reset: %v", err)
	}

	// The stored token is cleared with the password, so the link is single
	// use.
	if err := svc.ResetPassword(context.Background(), token, "another-pass"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("reused reset token: got %v, want unauthorized", err)
	}
}
