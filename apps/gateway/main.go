// The gateway service terminates websocket connections and gives each one a
// live room session: history on join, inserts as they land, resubscribe on
// drop. Messages flow down through the store and come back up through the
// update bus; the gateway never writes a sent message straight to its peer.
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
	"github.com/huddleapp/huddle/pkg/db"
	"github.com/huddleapp/huddle/pkg/model"
	"github.com/huddleapp/huddle/pkg/profile"
	"github.com/huddleapp/huddle/pkg/room"
	"github.com/huddleapp/huddle/pkg/session"
	"github.com/huddleapp/huddle/pkg/snowflake"
	"github.com/huddleapp/huddle/pkg/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "huddle-gateway",
		Usage: "websocket edge for live room chat",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				EnvVars: []string{"HUDDLE_DEBUG"},
			},
			&cli.StringFlag{
				Name:    "ws-listen-address",
				Value:   ":8080",
				EnvVars: []string{"HUDDLE_GATEWAY_LISTEN_ADDRESS"},
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
				Name:     "jwt-secret",
				Required: true,
				EnvVars:  []string{"HUDDLE_JWT_SECRET"},
			},
			&cli.Int64Flag{
				Name:    "node-id",
				Value:   1,
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

	dbSession, err := db.NewSession(strings.Split(cctx.String("scylla-hosts"), ","), db.Keyspace)
	if err != nil {
		return err
	}
	defer dbSession.Close()

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

	live := bus.NewRedis(rdb)
	messages := store.NewScylla(dbSession, ids, live)
	rooms := room.NewRegistry(messages)
	profiles := profile.NewStore(dbSession)

	gw := &Gateway{
		tokens:   tokens,
		store:    messages,
		registry: rooms,
		bus:      liveBus{live},
		profiles: profiles,
		presence: rdb,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.ServeWS)

	srv := &http.Server{
		Addr:        cctx.String("ws-listen-address"),
		Handler:     mux,
		ReadTimeout: 0, // websocket connections manage their own deadlines
	}

	serverDone := make(chan struct{})
	go func() {
		zap.L().Info("gateway serving websockets", zap.String("addr", srv.Addr))
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

// liveBus narrows *bus.Redis to the session's Bus interface. The concrete
// Subscribe returns *bus.Subscription, which Go will not accept in place of
// the interface-valued return.
type liveBus struct {
	redis *bus.Redis
}

func (b liveBus) Subscribe(ctx context.Context, roomKey string, h func(model.Message)) (session.Subscription, error) {
	sub, err := b.redis.Subscribe(ctx, roomKey, h)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
