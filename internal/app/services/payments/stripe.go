package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jive-live/jive-server/pkg/logger"
)

// StripeConfig holds the API credentials for the Stripe processor.
type StripeConfig struct {
	SecretKey string `yaml:"secret_key"`
	ClientID  string `yaml:"client_id"`
}

// Stripe talks to the Stripe REST API directly. Only the connect and charge
// endpoints the platform needs are implemented.
type Stripe struct {
	client *http.Client
	cfg    StripeConfig
	log    *logger.Logger

	apiBase     string
	connectBase string
}

var _ Processor = (*Stripe)(nil)

// NewStripe constructs a Stripe processor.
func NewStripe(client *http.Client, cfg StripeConfig, log *logger.Logger) *Stripe {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("stripe")
	}
	return &Stripe{
		client:      client,
		cfg:         cfg,
		log:         log,
		apiBase:     "https://api.stripe.com/v1",
		connectBase: "https://connect.stripe.com",
	}
}

// AuthorizeURL returns the connect onboarding URL. Express accounts use the
// short onboarding flow.
func (s *Stripe) AuthorizeURL(state string, express bool) string {
	path := "/oauth/authorize"
	if express {
		path = "/express/oauth/authorize"
	}
	q := url.Values{}
	q.Set("client_id", s.cfg.ClientID)
	q.Set("state", state)
	q.Set("response_type", "code")
	return s.connectBase + path + "?" + q.Encode()
}

func (s *Stripe) postForm(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build stripe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.SecretKey, "")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error.Message != "" {
			return fmt.Errorf("stripe: %s", apiErr.Error.Message)
		}
		return fmt.Errorf("stripe status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode stripe response: %w", err)
	}
	return nil
}

// ExchangeCode swaps a connect authorization code for the connected account
// id.
func (s *Stripe) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)

	var out struct {
		StripeUserID string `json:"stripe_user_id"`
	}
	if err := s.postForm(ctx, s.connectBase+"/oauth/token", form, &out); err != nil {
		return "", err
	}
	if out.StripeUserID == "" {
		return "", fmt.Errorf("stripe returned no account id")
	}
	return out.StripeUserID, nil
}

// LoginLink creates an express dashboard login link for the connected
// account.
func (s *Stripe) LoginLink(ctx context.Context, providerAccountID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	endpoint := s.apiBase + "/accounts/" + url.PathEscape(providerAccountID) + "/login_links"
	if err := s.postForm(ctx, endpoint, url.Values{}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// Charge creates a destination charge routed to the connected account with
// the platform fee retained.
func (s *Stripe) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", req.Currency)
	form.Set("source", req.Source)
	form.Set("destination[account]", req.Destination)
	form.Set("application_fee_amount", strconv.FormatInt(req.PlatformFee, 10))
	if req.Description != "" {
		form.Set("description", req.Description)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := s.postForm(ctx, s.apiBase+"/charges", form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}
