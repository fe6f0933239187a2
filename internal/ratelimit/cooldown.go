package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrCooldownActive is returned when the same application was sent recently.
var ErrCooldownActive = errors.New("an application to this address for this role was already sent recently")

const cooldownKeyPrefix = "applyflow:cooldown:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Reservation is a held cooldown slot. Release it when the enqueue that
// took it does not go through.
type Reservation struct {
	key   string
	token string
}

// Cooldown rejects repeat applications to the same target and role.
type Cooldown struct {
	cli    *redis.Client
	period time.Duration
}

// NewCooldown creates a Cooldown guard with the given period.
func NewCooldown(cli *redis.Client, period time.Duration) *Cooldown {
	return &Cooldown{cli: cli, period: period}
}

// Reserve takes the slot for (account, target, role) or returns ErrCooldownActive.
func (c *Cooldown) Reserve(ctx context.Context, accountID, target, role string) (*Reservation, error) {
	r := &Reservation{
		key:   cooldownKey(accountID, target, role),
		token: uuid.NewString(),
	}

	ok, err := c.cli.SetNX(ctx, r.key, r.token, c.period).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve cooldown: %w", err)
	}
	if !ok {
		return nil, ErrCooldownActive
	}

	return r, nil
}

// Release frees a reservation if it is still owned by r.
func (c *Cooldown) Release(ctx context.Context, r *Reservation) error {
	if r == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, c.cli, []string{r.key}, r.token).Err(); err != nil {
		return fmt.Errorf("failed to release cooldown: %w", err)
	}
	return nil
}

func cooldownKey(accountID, target, role string) string {
	norm := strings.ToLower(strings.TrimSpace(target)) + "|" + strings.ToLower(strings.TrimSpace(role))
	sum := sha256.Sum256([]byte(norm))
	return cooldownKeyPrefix + accountID + ":" + hex.EncodeToString(sum[:16])
}
