package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/castmatch/castmatch-server/internal/config"
	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/domain/ratelimit"
	"github.com/castmatch/castmatch-server/internal/infrastructure/cache"
)

const ratelimitTimeout = 10 * time.Second

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect or reset AI rate limits",
	Long:  `Inspect or reset a user's AI rate-limit buckets. Requires REDIS_URL; in-process buckets are not reachable from the CLI.`,
}

var ratelimitStatusCmd = &cobra.Command{
	Use:   "status <userId>",
	Short: "Show a user's tier bucket and the global bucket",
	Args:  cobra.ExactArgs(1),
	RunE:  runRatelimitStatus,
}

var ratelimitResetCmd = &cobra.Command{
	Use:   "reset <userId>",
	Short: "Clear a user's tier bucket",
	Args:  cobra.ExactArgs(1),
	RunE:  runRatelimitReset,
}

func init() {
	ratelimitCmd.AddCommand(ratelimitStatusCmd)
	ratelimitCmd.AddCommand(ratelimitResetCmd)

	ratelimitCmd.PersistentFlags().String("role", string(identity.RoleActor), "Role whose tier to use: actor, producer, casting_director, admin")
}

func openLimiter(ctx context.Context) (*ratelimit.Limiter, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.RedisURL == "" {
		return nil, nil, errors.New("REDIS_URL is not set")
	}
	redisCache, err := cache.NewRedisCache(ctx, cfg.RedisURL, cfg.RedisKeyPrefix, zerolog.Nop())
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	limiter := ratelimit.NewLimiter(cache.NewRedisBucketStore(redisCache), cfg.RateLimit.Budgets(), zerolog.Nop())
	return limiter, func() { _ = redisCache.Close() }, nil
}

func roleFlag(cmd *cobra.Command) identity.Role {
	raw, _ := cmd.Flags().GetString("role")
	return identity.ParseRole(raw)
}

func runRatelimitStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), ratelimitTimeout)
	defer cancel()

	limiter, closeFn, err := openLimiter(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	status, err := limiter.Status(ctx, args[0], roleFlag(cmd))
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), status)
}

func runRatelimitReset(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), ratelimitTimeout)
	defer cancel()

	limiter, closeFn, err := openLimiter(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	role := roleFlag(cmd)
	if err := limiter.Reset(ctx, args[0], role); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reset %s tier for %s\n", role, args[0])
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
