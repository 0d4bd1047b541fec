package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/agencydesk/identity/internal/repository"
)

// FallbackChannel generates 6-digit codes locally and keeps them in the code
// store with a TTL. The code is surfaced only through the server log, which
// is the operator-visible channel in non-production environments.
type FallbackChannel struct {
	codes  repository.OtpCodeStore
	ttl    time.Duration
	logger *zap.Logger
}

var _ Channel = (*FallbackChannel)(nil)

// NewFallbackChannel wires the development fallback.
func NewFallbackChannel(codes repository.OtpCodeStore, ttl time.Duration, logger *zap.Logger) *FallbackChannel {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.L()
	}
	return &FallbackChannel{codes: codes, ttl: ttl, logger: logger}
}

func (c *FallbackChannel) Send(ctx context.Context, phone string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate fallback code: %w", err)
	}
	if err := c.codes.Save(ctx, phone, code, c.ttl); err != nil {
		return "", fmt.Errorf("save fallback code: %w", err)
	}
	c.logger.Warn("fallback otp code issued",
		zap.String("phone", phone),
		zap.String("code", code),
	)
	return fmt.Sprintf("Verification code sent to %s", phone), nil
}

func (c *FallbackChannel) Check(ctx context.Context, phone, code string) (bool, error) {
	stored, err := c.codes.Get(ctx, phone)
	if err != nil {
		return false, fmt.Errorf("load fallback code: %w", err)
	}
	if stored == "" {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return false, nil
	}
	// Consume on success so a code never verifies twice.
	if err := c.codes.Delete(ctx, phone); err != nil {
		c.logger.Warn("failed to consume fallback code", zap.String("phone", phone), zap.Error(err))
	}
	return true, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
