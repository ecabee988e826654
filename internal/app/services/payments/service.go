package payments

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/jive-live/jive-server/internal/app/apperr"
	"github.com/jive-live/jive-server/internal/app/domain/payment"
	"github.com/jive-live/jive-server/internal/app/storage"
	"github.com/jive-live/jive-server/pkg/logger"
)

// platformFeePercent is the platform's cut of every charge.
const platformFeePercent = 0.10

// Processor is the payment provider behind connect onboarding, login links
// and charges. Production uses the Stripe implementation; tests use a fake.
type Processor interface {
	AuthorizeURL(state string, express bool) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	LoginLink(ctx context.Context, providerAccountID string) (string, error)
	Charge(ctx context.Context, req ChargeRequest) (string, error)
}

// ChargeRequest describes a single charge. Amounts are in the smallest
// currency unit.
type ChargeRequest struct {
	Amount      int64
	Currency    string
	Source      string
	Destination string
	PlatformFee int64
	Description string
}

// Service handles payout onboarding and viewer-to-streamer payments.
type Service struct {
	accounts     storage.AccountStore
	transactions storage.TransactionStore
	processor    Processor
	log          *logger.Logger
}

// New constructs a payments service.
func New(accounts storage.AccountStore, transactions storage.TransactionStore, processor Processor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	return &Service{
		accounts:     accounts,
		transactions: transactions,
		processor:    processor,
		log:          log,
	}
}

// PlatformFee is the platform's cut of amount, rounded up.
func PlatformFee(amount int64) int64 {
	return int64(math.Ceil(float64(amount) * platformFeePercent))
}

// ProcessorFee approximates the card processor's cut for destination
// charges: 2.9% rounded up, plus a 30 unit flat fee.
func ProcessorFee(amount int64) int64 {
	return int64(math.Ceil(float64(amount)*0.029)) + 30
}

// SetupURL returns the connect onboarding URL for the account. The account
// id rides along as OAuth state so the callback can attribute the code.
func (s *Service) SetupURL(ctx context.Context, accountID string, express bool) (string, error) {
	if s.processor == nil {
		return "", errors.New("payment processor not configured")
	}
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return "", err
	}
	return s.processor.AuthorizeURL(accountID, express), nil
}

// ExchangeCode swaps a connect authorization code for a provider account id
// and stores it on the profile.
func (s *Service) ExchangeCode(ctx context.Context, accountID, code string) error {
	if s.processor == nil {
		return errors.New("payment processor not configured")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return apperr.Invalid("code", "authorization code is required")
	}

	providerID, err := s.processor.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}
	if err := s.accounts.SetPaymentAccountID(ctx, accountID, providerID); err != nil {
		return err
	}
	s.log.WithField("account_id", accountID).Info("payment account connected")
	return nil
}

// LoginLink returns a dashboard login link for the account's connected
// payment account.
func (s *Service) LoginLink(ctx context.Context, accountID string) (string, error) {
	if s.processor == nil {
		return "", errors.New("payment processor not configured")
	}
	prof, err := s.accounts.GetProfile(ctx, accountID)
	if err != nil {
		return "", err
	}
	if prof.PaymentAccountID == "" {
		return "", apperr.Invalid("account", "no payment account connected")
	}
	return s.processor.LoginLink(ctx, prof.PaymentAccountID)
}

// Pay charges the source token and routes the proceeds to the recipient's
// connected account, keeping the platform fee. Express accounts also bear
// the processor fee. The ledger entry records the gross amount.
func (s *Service) Pay(ctx context.Context, fromID, toUsername string, amount int64, currency, source string, express bool) (payment.Transaction, error) {
	if s.processor == nil {
		return payment.Transaction{}, errors.New("payment processor not configured")
	}
	if amount <= 0 {
		return payment.Transaction{}, apperr.Invalid("amount", "amount must be positive")
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}
	if strings.TrimSpace(source) == "" {
		return payment.Transaction{}, apperr.Invalid("source", "payment source is required")
	}

	recipient, err := s.accounts.GetProfileByUsername(ctx, toUsername)
	if err != nil {
		return payment.Transaction{}, err
	}
	if recipient.PaymentAccountID == "" {
		return payment.Transaction{}, apperr.Invalid("username", "recipient has no payment account")
	}

	fee := PlatformFee(amount)
	if express {
		fee += ProcessorFee(amount)
	}

	chargeID, err := s.processor.Charge(ctx, ChargeRequest{
		Amount:      amount,
		Currency:    currency,
		Source:      source,
		Destination: recipient.PaymentAccountID,
		PlatformFee: fee,
		Description: "Jive payment to @" + recipient.Username,
	})
	if err != nil {
		return payment.Transaction{}, err
	}

	tx, err := s.transactions.CreateTransaction(ctx, payment.Transaction{
		FromID:       fromID,
		ToID:         recipient.AccountID,
		CurrencyCode: currency,
		Amount:       amount,
	})
	if err != nil {
		// The charge went through; the missing ledger row is logged, not
		// surfaced as a payment failure.
		s.log.WithError(err).WithField("charge_id", chargeID).Error("charge succeeded but ledger write failed")
		return payment.Transaction{}, err
	}

	s.log.WithField("charge_id", chargeID).
		WithField("from", fromID).
		WithField("to", recipient.AccountID).
		WithField("amount", amount).
		Info("payment completed")
	return tx, nil
}

// SaveTransaction records an externally settled payment in the ledger.
func (s *Service) SaveTransaction(ctx context.Context, fromID, toID, currency string, amount int64) (payment.Transaction, error) {
	if amount <= 0 {
		return payment.Transaction{}, apperr.Invalid("amount", "amount must be positive")
	}
	return s.transactions.CreateTransaction(ctx, payment.Transaction{
		FromID:       fromID,
		ToID:         toID,
		CurrencyCode: strings.ToLower(strings.TrimSpace(currency)),
		Amount:       amount,
	})
}

// ListTransactions returns payments received by the account, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID string) ([]payment.TransactionWithSender, error) {
	return s.transactions.ListTransactions(ctx, accountID)
}
