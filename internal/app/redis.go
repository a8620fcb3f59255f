package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"carpool/internal/config"
)

// NewRedisClient connects to the Redis instance holding trip locks, processed
// event ids and the read-model cache. With nrApp set every command is
// reported as a datastore segment of the calling transaction.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, nrApp *newrelic.Application) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if nrApp != nil {
		client.AddHook(datastoreHook{})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// keyspace names the collection a command touches: "lock", "event",
// "cache" or "idempotency".
func keyspace(cmd redis.Cmder) string {
	args := cmd.Args()
	if len(args) < 2 {
		return "redis"
	}
	key, ok := args[1].(string)
	if !ok {
		return "redis"
	}
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "redis"
}

type datastoreHook struct{}

func (datastoreHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (datastoreHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		txn := newrelic.FromContext(ctx)
		if txn == nil {
			return next(ctx, cmd)
		}
		operation := cmd.Name()
		// EVALSHA/EVAL carry the key after the script and key count.
		collection := keyspace(cmd)
		if operation == "evalsha" || operation == "eval" {
			if args := cmd.Args(); len(args) > 3 {
				if key, ok := args[3].(string); ok {
					if i := strings.IndexByte(key, ':'); i > 0 {
						collection = key[:i]
					}
				}
			}
		}
		segment := newrelic.DatastoreSegment{
			StartTime:  txn.StartSegmentNow(),
			Product:    newrelic.DatastoreRedis,
			Operation:  operation,
			Collection: collection,
		}
		defer segment.End()
		return next(ctx, cmd)
	}
}

func (datastoreHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		txn := newrelic.FromContext(ctx)
		if txn == nil {
			return next(ctx, cmds)
		}
		collection := "redis"
		if len(cmds) > 0 {
			collection = keyspace(cmds[0])
		}
		segment := newrelic.DatastoreSegment{
			StartTime:  txn.StartSegmentNow(),
			Product:    newrelic.DatastoreRedis,
			Operation:  "pipeline",
			Collection: collection,
		}
		defer segment.End()
		return next(ctx, cmds)
	}
}
