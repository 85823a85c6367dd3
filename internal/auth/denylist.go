package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist はログアウト済みトークンのID（jti）を有効期限まで保持する。
type Denylist interface {
	// Revoke はtokenIDをttlの間、失効扱いにする。
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	// IsRevoked はtokenIDが失効済みかを返す。
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// NopDenylist は何も保持しないDenylist。
// REDIS_URL未設定時に使用し、ログアウトはCookie削除のみとなる。
type NopDenylist struct{}

// Revoke は何もしない。
func (NopDenylist) Revoke(context.Context, string, time.Duration) error { return nil }

// IsRevoked は常にfalseを返す。
func (NopDenylist) IsRevoked(context.Context, string) (bool, error) { return false, nil }

// RedisDenylist はRedisを用いたDenylist。
// キーは "session:revoked:<jti>" で、TTLはトークンの残り有効期間。
type RedisDenylist struct {
	client *redis.Client
}

// NewRedisDenylist はRedisDenylistを生成する。
func NewRedisDenylist(client *redis.Client) *RedisDenylist {
	return &RedisDenylist{client: client}
}

func revokedKey(tokenID string) string {
	return fmt.Sprintf("session:revoked:%s", tokenID)
}

// Revoke はtokenIDを失効扱いにする。ttlが0以下の場合は既に期限切れのため何もしない。
func (d *RedisDenylist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, revokedKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to store revoked token: %w", err)
	}
	return nil
}

// IsRevoked はtokenIDが失効済みかを返す。
func (d *RedisDenylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	_, err := d.client.Get(ctx, revokedKey(tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return true, nil
}
