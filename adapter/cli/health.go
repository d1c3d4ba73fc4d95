package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/eventbus"
	"github.com/looplinehq/loopline/pkg/config"
	"github.com/looplinehq/loopline/pkg/observability"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check connectivity to Postgres, Redis and RabbitMQ",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		registry := observability.NewHealthRegistry()
		registry.Register("postgres", observability.DatabaseHealthChecker(func(ctx context.Context) error {
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			return pool.Ping(ctx)
		}))
		if cfg.RedisURL != "" {
			registry.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
				opt, err := redis.ParseURL(cfg.RedisURL)
				if err != nil {
					return err
				}
				client := redis.NewClient(opt)
				defer client.Close()
				return client.Ping(ctx).Err()
			}))
		}
		if cfg.RabbitMQURL != "" {
			registry.Register("rabbitmq", observability.RabbitMQHealthChecker(func(ctx context.Context) error {
				publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
				if err != nil {
					return err
				}
				return publisher.Close()
			}))
		}

		overall := registry.GetOverallHealth(ctx)

		names := make([]string, 0, len(overall.Checks))
		for name := range overall.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			result := overall.Checks[name]
			fmt.Printf("%-10s %-10s %s\n", name, result.Status, result.Message)
		}
		fmt.Printf("overall: %s\n", overall.Status)

		if overall.Status == observability.HealthStatusUnhealthy {
			cmd.SilenceUsage = true
			return errors.New("one or more components are unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
