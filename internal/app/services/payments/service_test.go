package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jive-live/jive-server/internal/app/apperr"
	"github.com/jive-live/jive-server/internal/app/domain/account"
	"github.com/jive-live/jive-server/internal/app/domain/stream"
	"github.com/jive-live/jive-server/internal/app/storage/memory"
)

type fakeProcessor struct {
	charges   []ChargeRequest
	chargeErr error
	accountID string
}

func (p *fakeProcessor) AuthorizeURL(state string, express bool) string {
	if express {
		return "https://connect.example.com/express?state=" + state
	}
	return "https://connect.example.com/standard?state=" + state
}

func (p *fakeProcessor) ExchangeCode(_ context.Context, code string) (string, error) {
	if code == "bad-code" {
		return "", errors.New("invalid grant")
	}
	return p.accountID, nil
}

func (p *fakeProcessor) LoginLink(_ context.Context, providerAccountID string) (string, error) {
	return "https://dashboard.example.com/" + providerAccountID, nil
}

func (p *fakeProcessor) Charge(_ context.Context, req ChargeRequest) (string, error) {
	if p.chargeErr != nil {
		return "", p.chargeErr
	}
	p.charges = append(p.charges, req)
	return "ch_test", nil
}

func register(t *testing.T, store *memory.Store, username string) account.Account {
	t.Helper()
	acct, err := store.RegisterAccount(context.Background(),
		account.Account{Username: username, Email: username + "@example.com", StreamKey: "key-" + username},
		account.Profile{Name: username}, "hash", stream.Info{Title: "t"})
	require.NoError(t, err)
	return acct
}

func TestFees(t *testing.T) {
	// 10% rounded up.
	require.Equal(t, int64(100), PlatformFee(1000))
	require.Equal(t, int64(101), PlatformFee(1001))
	require.Equal(t, int64(1), PlatformFee(1))

	// 2.9% rounded up, plus 30.
	require.Equal(t, int64(59), ProcessorFee(1000))
	require.Equal(t, int64(30), ProcessorFee(0))
	require.Equal(t, int64(33), ProcessorFee(100))
	// 150 * 2.9% is 4.35 and must round up, not to nearest.
	require.Equal(t, int64(35), ProcessorFee(150))
}

func TestService_ConnectFlow(t *testing.T) {
	store := memory.New()
	proc := &fakeProcessor{accountID: "acct_123"}
	svc := New(store, store, proc, nil)
	streamer := register(t, store, "streamer")

	url, err := svc.SetupURL(context.Background(), streamer.ID, true)
	require.NoError(t, err)
	require.Contains(t, url, "express")
	require.Contains(t, url, streamer.ID)

	require.NoError(t, svc.ExchangeCode(context.Background(), streamer.ID, "good-code"))

	prof, err := store.GetProfile(context.Background(), streamer.ID)
	require.NoError(t, err)
	require.Equal(t, "acct_123", prof.PaymentAccountID)

	link, err := svc.LoginLink(context.Background(), streamer.ID)
	require.NoError(t, err)
	require.Equal(t, "https://dashboard.example.com/acct_123", link)

	require.Error(t, svc.ExchangeCode(context.Background(), streamer.ID, "bad-code"))
}

func TestService_LoginLinkWithoutAccount(t *testing.T) {
	store := memory.New()
	svc := New(store, store, &fakeProcessor{}, nil)
	viewer := register(t, store, "viewer")

	_, err := svc.LoginLink(context.Background(), viewer.ID)
	require.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestService_Pay(t *testing.T) {
	store := memory.New()
	proc := &fakeProcessor{accountID: "acct_123"}
	svc := New(store, store, proc, nil)

	viewer := register(t, store, "viewer")
	streamer := register(t, store, "streamer")
	require.NoError(t, svc.ExchangeCode(context.Background(), streamer.ID, "good-code"))

	tx, err := svc.Pay(context.Background(), viewer.ID, "streamer", 1000, "USD", "tok_visa", true)
	require.NoError(t, err)
	require.Equal(t, viewer.ID, tx.FromID)
	require.Equal(t, streamer.ID, tx.ToID)
	require.Equal(t, int64(1000), tx.Amount)
	require.Equal(t, "usd", tx.CurrencyCode)

	require.Len(t, proc.charges, 1)
	charge := proc.charges[0]
	require.Equal(t, "acct_123", charge.Destination)
	// Express destination charges bear both fees.
	require.Equal(t, PlatformFee(1000)+ProcessorFee(1000), charge.PlatformFee)

	// Standard accounts only pay the platform's cut.
	_, err = svc.Pay(context.Background(), viewer.ID, "streamer", 1000, "usd", "tok_visa", false)
	require.NoError(t, err)
	require.Equal(t, PlatformFee(1000), proc.charges[1].PlatformFee)
}

func TestService_PayValidation(t *testing.T) {
	store := memory.New()
	svc := New(store, store, &fakeProcessor{accountID: "acct_123"}, nil)
	viewer := register(t, store, "viewer")
	register(t, store, "unconnected")

	_, err := svc.Pay(context.Background(), viewer.ID, "unconnected", 1000, "usd", "tok_visa", false)
	require.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = svc.Pay(context.Background(), viewer.ID, "nobody", 1000, "usd", "tok_visa", false)
	require.Error(t, err)

	_, err = svc.Pay(context.Background(), viewer.ID, "viewer", 0, "usd", "tok_visa", false)
	require.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestService_Ledger(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil, nil)
	viewer := register(t, store, "viewer")
	streamer := register(t, store, "streamer")

	_, err := svc.SaveTransaction(context.Background(), viewer.ID, streamer.ID, "USD", 500)
	require.NoError(t, err)
	_, err = svc.SaveTransaction(context.Background(), viewer.ID, streamer.ID, "usd", 250)
	require.NoError(t, err)

	received, err := svc.ListTransactions(context.Background(), streamer.ID)
	require.NoError(t, err)
	require.Len(t, received, 2)
	// Newest first, joined with the sender's profile.
	require.Equal(t, int64(250), received[0].Amount)
	require.Equal(t, "viewer", received[0].SenderUsername)

	sent, err := svc.ListTransactions(context.Background(), viewer.ID)
	require.NoError(t, err)
	require.Len(t, sent, 0)
}
