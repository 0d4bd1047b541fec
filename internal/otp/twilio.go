package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agencydesk/identity/internal/domain"
)

const twilioVerifyBase = "https://verify.twilio.com/v2/Services"

// TwilioChannel delivers and checks codes through the Twilio Verify API.
type TwilioChannel struct {
	accountSID string
	authToken  string
	verifySID  string
	httpClient *http.Client
	baseURL    string
}

var _ Channel = (*TwilioChannel)(nil)

// NewTwilioChannel constructs the production channel.
func NewTwilioChannel(accountSID, authToken, verifySID string, client *http.Client) *TwilioChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TwilioChannel{
		accountSID: accountSID,
		authToken:  authToken,
		verifySID:  verifySID,
		httpClient: client,
		baseURL:    twilioVerifyBase,
	}
}

// Send starts a verification for the phone over SMS.
func (c *TwilioChannel) Send(ctx context.Context, phone string) (string, error) {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("Channel", "sms")

	var out struct {
		Status string `json:"status"`
	}
	endpoint := fmt.Sprintf("%s/%s/Verifications", c.baseURL, c.verifySID)
	if err := c.post(ctx, endpoint, form, &out); err != nil {
		return "", err
	}
	return fmt.Sprintf("Verification code sent to %s", phone), nil
}

// Check validates a code. An "approved" status means the code matched; any
// other status is a plain false.
func (c *TwilioChannel) Check(ctx context.Context, phone, code string) (bool, error) {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("Code", code)

	var out struct {
		Status string `json:"status"`
	}
	endpoint := fmt.Sprintf("%s/%s/VerificationCheck", c.baseURL, c.verifySID)
	if err := c.post(ctx, endpoint, form, &out); err != nil {
		return false, err
	}
	return out.Status == "approved", nil
}

func (c *TwilioChannel) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: build request: %s", domain.ErrOtpProvider, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrOtpProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %s", domain.ErrOtpProvider, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status=%d", domain.ErrOtpProvider, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %s", domain.ErrOtpProvider, err)
	}
	return nil
}
