// The api service is the HTTP edge for everything that is not the live chat
// feed: login, history reads, the challenge catalog, completions, the
// leaderboard and room presence.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/huddleapp/huddle/pkg/auth"
	"github.com/huddleapp/huddle/pkg/bus"
	"github.com/huddleapp/huddle/pkg/challenge"
	"github.com/huddleapp/huddle/pkg/db"
	"github.com/huddleapp/huddle/pkg/profile"
	"github.com/huddleapp/huddle/pkg/snowflake"
	"github.com/huddleapp/huddle/pkg/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "huddle-api",
		Usage: "HTTP API for login, history, challenges and presence",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				EnvVars: []string{"HUDDLE_DEBUG"},
			},
			&cli.StringFlag{
				Name:    "http-listen-address",
				Value:   ":8081",
				EnvVars: []string{"HUDDLE_API_LISTEN_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "scylla-hosts",
				Value:   "localhost:9042",
				EnvVars: []string{"HUDDLE_SCYLLA_HOSTS"},
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Value:   "localhost:6379",
				EnvVars: []string{"HUDDLE_REDIS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Value:   "localhost:19092",
				EnvVars: []string{"HUDDLE_KAFKA_BROKERS"},
			},
			&cli.StringFlag{
				Name:     "jwt-secret",
				Required: true,
				EnvVars:  []string{"HUDDLE_JWT_SECRET"},
			},
			&cli.Int64Flag{
				Name:    "node-id",
				Value:   2,
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

	tokens, err := auth.NewTokens(cctx.String("jwt-secret"))
	if err != nil {
		return err
	}

	ids, err := snowflake.NewNode(cctx.Int64("node-id"))
	if err != nil {
		return err
	}

	messages := store.NewScylla(session, ids, bus.NewRedis(rdb))
	profiles := profile.NewStore(session)

	completions := challenge.NewKafkaPublisher(strings.Split(cctx.String("kafka-brokers"), ","))
	defer func() { _ = completions.Close() }()
	challenges := challenge.NewService(session, profiles, completions)

	mux := http.NewServeMux()
	mux.Handle("/login", CORSMiddleware(LoginHandler(profiles, tokens)))
	mux.Handle("/history", CORSMiddleware(AuthMiddleware(tokens, HistoryHandler(messages, profiles))))
	mux.Handle("/challenges", CORSMiddleware(AuthMiddleware(tokens, ChallengesHandler(challenges))))
	mux.Handle("/challenges/complete", CORSMiddleware(AuthMiddleware(tokens, CompleteHandler(challenges))))
	mux.Handle("/leaderboard", CORSMiddleware(AuthMiddleware(tokens, LeaderboardHandler(challenges, profiles))))
	mux.Handle("/rooms/", CORSMiddleware(AuthMiddleware(tokens, PresenceHandler(rdb))))

	srv := &http.Server{
		Addr:         cctx.String("http-listen-address"),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	serverDone := make(chan struct{})
	go func() {
		zap.L().Info("api serving requests", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("http server failed", zap.Error(err))
		}
		close(serverDone)
	}()

	select {
	case <-serverDone:
	case <-cctx.Context.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}
