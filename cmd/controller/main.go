package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"github.com/sethvargo/go-envconfig"
	flag "github.com/spf13/pflag"

	"manualpilot/experiment/internal/controller"
	"manualpilot/experiment/internal/journal"
	"manualpilot/experiment/internal/liveness"
	"manualpilot/experiment/internal/metrics"
	"manualpilot/experiment/internal/presence"
	"manualpilot/experiment/internal/wire"
)

type Env struct {
	Host       string        `env:"HOST"`
	Port       int           `env:"PORT,default=11912"`
	InstanceID string        `env:"INSTANCE_ID"`
	RedisURL   string        `env:"REDIS_URL"`
	Threshold  time.Duration `env:"LIVENESS_THRESHOLD,default=2s"`
	LogLimit   int           `env:"LOG_LIMIT,default=1000"`

	Level    string `env:"LEVEL,default=asymmetric_advantages"`
	Duration int    `env:"DURATION,default=120"`
	Player   string `env:"PLAYER,default=Bot"`
	BotAPM   int    `env:"BOT_APM,default=80"`
}

// flags overlay the environment: anything given on the command line wins.
func parseFlags(env *Env, args []string) error {
	fs := flag.NewFlagSet("controller", flag.ContinueOnError)

	fs.StringVar(&env.Host, "host", env.Host, "Address to listen on")
	fs.IntVarP(&env.Port, "port", "p", env.Port, "Port to listen on")
	fs.StringVar(&env.RedisURL, "redis", env.RedisURL, "Redis URL for the presence registry")
	fs.DurationVar(&env.Threshold, "liveness-threshold", env.Threshold, "Time without a health check before the participant is dropped")

	fs.StringVarP(&env.Level, "level", "l", env.Level, "Game level")
	fs.IntVarP(&env.Duration, "duration", "d", env.Duration, "Experiment duration in seconds")
	fs.StringVar(&env.Player, "player", env.Player, "Controller-side player (Bot or Human)")
	fs.IntVar(&env.BotAPM, "bot-apm", env.BotAPM, "Bot actions per minute")

	return fs.Parse(args)
}

func doMain(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := Env{}
	if err := envconfig.Process(ctx, &env); err != nil {
		return err
	}

	if err := parseFlags(&env, os.Args[1:]); err != nil {
		return err
	}

	if env.InstanceID == "" {
		env.InstanceID = ksuid.New().String()
	}

	logger = logger.With(slog.String("instance", env.InstanceID), slog.String("role", "controller"))

	var registry presence.Registry = presence.Nop{}
	if env.RedisURL != "" {
		rOpts, err := redis.ParseURL(env.RedisURL)
		if err != nil {
			return err
		}

		rdb := redis.NewClient(rOpts)
		if err := rdb.Info(ctx).Err(); err != nil {
			return err
		}

		//goland:noinspection GoUnhandledErrorResult
		defer rdb.Close()

		registry = presence.NewRedis(rdb, env.InstanceID, presence.DefaultTTL)
	}

	j := journal.New(logger, env.LogLimit)
	m := metrics.New("controller")

	c, err := controller.NewCoordinator(controller.Options{
		Logger:   logger,
		Journal:  j,
		Metrics:  m,
		Presence: registry,
		Config: wire.Config{
			Level:    env.Level,
			Duration: env.Duration,
			Player:   wire.Player(env.Player),
			BotAPM:   env.BotAPM,
		},
		Threshold:     env.Threshold,
		CheckInterval: liveness.DefaultInterval,
	})
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(env.Host, strconv.Itoa(env.Port))
	svc := controller.NewService(addr, controller.Router(c, logger, env.InstanceID), c, logger)

	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to listen on %v: %w", addr, err)
	}

	//goland:noinspection GoUnhandledErrorResult
	defer svc.Stop()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sc
	logger.Warn("shutdown signal", slog.String("signal", sig.String()))

	// give the Disconnect command a chance to reach the participant
	if sess := c.Current(); sess != nil {
		if err := c.Disconnect(); err != nil {
			logger.Warn("failed to disconnect participant", slog.Any("error", err))
		}

		select {
		case <-sess.Context().Done():
		case <-time.After(controller.DefaultGrace):
		}
	}

	return nil
}

func main() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: slog.LevelDebug})
	logger := slog.New(handler)

	if err := doMain(logger); err != nil {
		logger.Error("failed to start", slog.Any("error", err))
		os.Exit(1)
	}
}
