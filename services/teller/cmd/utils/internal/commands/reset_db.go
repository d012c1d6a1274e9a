package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/postgres"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/redis"
	"github.com/aquamarinepk/aqm"
	goredis "github.com/redis/go-redis/v9"
)

// ErrResetNotConfirmed is returned when reset-db runs without --force.
var ErrResetNotConfirmed = errors.New("reset-db drops all teller data; rerun with --force")

// ResetDB drops every ticket and teller session.
func ResetDB(ctx context.Context, opts Options, logger aqm.Logger) error {
	if !opts.Force {
		return ErrResetNotConfirmed
	}
	logger.Infof("DANGER: dropping all teller data (%s)", opts.DBDriver)

	t, err := openTarget(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer t.close(ctx)

	switch {
	case t.mongoDB != nil:
		if err := t.mongoDB.Drop(ctx); err != nil {
			return fmt.Errorf("drop mongo database: %w", err)
		}
		logger.Info("Database dropped", "database", t.mongoDB.Name())
	case t.sqlDB != nil:
		if err := postgres.Reset(ctx, t.sqlDB); err != nil {
			return err
		}
		logger.Info("Postgres tables truncated")
	}

	if opts.RedisURL != "" {
		if err := resetRedis(ctx, opts.RedisURL, logger); err != nil {
			return err
		}
	}
	return nil
}

func resetRedis(ctx context.Context, url string, logger aqm.Logger) error {
	redisOpts, err := goredis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := goredis.NewClient(redisOpts)
	defer rdb.Close()

	n, err := redis.NewSessionRepo(rdb).Reset(ctx)
	if err != nil {
		return err
	}
	logger.Info("Redis session registry cleared", "keys", n)
	return nil
}
