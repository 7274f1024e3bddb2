// The announcer turns challenge-completion events into System messages in the
// completing user's room. Delivery from Kafka is at-least-once; redeliveries
// are filtered by event id so each completion is announced exactly once in
// the common case.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/huddleapp/huddle/pkg/bus"
	"github.com/huddleapp/huddle/pkg/db"
	"github.com/huddleapp/huddle/pkg/snowflake"
	"github.com/huddleapp/huddle/pkg/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "huddle-announcer",
		Usage: "announce challenge completions into room chats",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				EnvVars: []string{"HUDDLE_DEBUG"},
			},
			&cli.StringFlag{
				Name:    "scylla-hosts",
				Value:   "localhost:9042",
				EnvVars: []string{"HUDDLE_SCYLLA_HOSTS"},
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Value:   "localhost:19092",
				EnvVars: []string{"HUDDLE_KAFKA_BROKERS"},
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Value:   "localhost:6379",
				EnvVars: []string{"HUDDLE_REDIS_ADDR"},
			},
			&cli.Int64Flag{
				Name:    "node-id",
				Value:   3,
				Usage:   "snowflake node id, unique per process writing messages",
				EnvVars: []string{"HUDDLE_NODE_ID"},
			},
		},
		Before: func(cctx *cli.Context) error {
			return setupLogging(cctx.Bool("debug"))
		},
		Action: run,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		zap.L().Fatal("unhandled error", zap.Error(err))
	}
}

func setupLogging(debugMode bool) error {
	var cfg zap.Config
	if debugMode {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level.SetLevel(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level.SetLevel(zapcore.InfoLevel)
	}
	cfg.OutputPaths = []string{"stdout"}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	return nil
}

func run(cctx *cli.Context) error {
	defer func() { _ = zap.L().Sync() }()

	session, err := db.NewSession(strings.Split(cctx.String("scylla-hosts"), ","), db.Keyspace)
	if err != nil {
		return err
	}
	defer session.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cctx.String("redis-addr")})
	defer func() { _ = rdb.Close() }()

	ids, err := snowflake.NewNode(cctx.Int64("node-id"))
	if err != nil {
		return err
	}

	messages := store.NewScylla(session, ids, bus.NewRedis(rdb))
	consumer := NewConsumer(
		strings.Split(cctx.String("kafka-brokers"), ","),
		"announcer-group",
		messages,
		&redisDeduper{rdb: rdb},
	)
	defer func() { _ = consumer.Close() }()

	zap.L().Info("announcer consuming completion events")
	return consumer.Run(cctx.Context)
}
