package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agencydesk/identity/internal/repository"
)

const otpKeyPrefix = "otp:fallback:"

// RedisOtpStore holds fallback OTP codes in Redis with a TTL so unconsumed
// codes expire on their own.
type RedisOtpStore struct {
	client redis.UniversalClient
}

var _ repository.OtpCodeStore = (*RedisOtpStore)(nil)

// NewRedisOtpStore constructs a Redis-backed code store.
func NewRedisOtpStore(client redis.UniversalClient) *RedisOtpStore {
	return &RedisOtpStore{client: client}
}

// Save stores the code for the phone, replacing any pending one.
func (s *RedisOtpStore) Save(ctx context.Context, phone, code string, ttl time.Duration) error {
	if err := s.client.Set(ctx, otpKeyPrefix+phone, code, ttl).Err(); err != nil {
		return fmt.Errorf("persist otp code: %w", err)
	}
	return nil
}

// Get returns the pending code, or empty string when none exists.
func (s *RedisOtpStore) Get(ctx context.Context, phone string) (string, error) {
	code, err := s.client.Get(ctx, otpKeyPrefix+phone).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("load otp code: %w", err)
	}
	return code, nil
}

// Delete consumes the pending code.
func (s *RedisOtpStore) Delete(ctx context.Context, phone string) error {
	if err := s.client.Del(ctx, otpKeyPrefix+phone).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete otp code: %w", err)
	}
	return nil
}
