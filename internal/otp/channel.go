package otp

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agencydesk/identity/internal/config"
	"github.com/agencydesk/identity/internal/repository"
)

// Channel abstracts the OTP delivery/verification provider. Check returns
// false for a wrong code; transport or provider failure is an error, never a
// false.
type Channel interface {
	Send(ctx context.Context, phone string) (string, error)
	Check(ctx context.Context, phone, code string) (bool, error)
}

// sentinelCode always verifies when test mode is enabled.
const sentinelCode = "000000"

// New selects the concrete channel once at wiring time: the Twilio Verify
// client when configured, otherwise the generated-code fallback, which is
// refused outright in production.
func New(cfg config.Config, codes repository.OtpCodeStore, logger *zap.Logger) (Channel, error) {
	if logger == nil {
		logger = zap.L()
	}

	var channel Channel
	switch {
	case cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioVerifySID != "":
		channel = NewTwilioChannel(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioVerifySID, nil)
	case cfg.Production():
		return nil, fmt.Errorf("otp provider is required in production")
	default:
		logger.Warn("otp provider not configured, using generated-code fallback")
		channel = NewFallbackChannel(codes, cfg.OtpFallbackTTL, logger)
	}

	if cfg.OtpTestMode {
		channel = &testModeChannel{next: channel}
	}
	return channel, nil
}

// testModeChannel accepts the fixed sentinel code in addition to whatever the
// wrapped channel accepts.
type testModeChannel struct {
	next Channel
}

func (c *testModeChannel) Send(ctx context.Context, phone string) (string, error) {
	return c.next.Send(ctx, phone)
}

func (c *testModeChannel) Check(ctx context.Context, phone, code string) (bool, error) {
	if code == sentinelCode {
		return true, nil
	}
	return c.next.Check(ctx, phone, code)
}
