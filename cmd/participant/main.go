package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sethvargo/go-envconfig"
	flag "github.com/spf13/pflag"

	"manualpilot/experiment/internal/journal"
	"manualpilot/experiment/internal/metrics"
	"manualpilot/experiment/internal/participant"
)

type Env struct {
	Address      string        `env:"CONTROLLER_ADDRESS,default=localhost"`
	MetricsAddr  string        `env:"METRICS_ADDR"`
	ProbeTimeout time.Duration `env:"PROBE_TIMEOUT,default=10s"`
	LogLimit     int           `env:"LOG_LIMIT,default=1000"`
}

func parseFlags(env *Env, args []string) error {
	fs := flag.NewFlagSet("participant", flag.ContinueOnError)

	fs.StringVarP(&env.Address, "address", "a", env.Address, "Controller address, host[:port]")
	fs.StringVar(&env.MetricsAddr, "metrics", env.MetricsAddr, "Serve Prometheus metrics on this address")
	fs.DurationVar(&env.ProbeTimeout, "probe-timeout", env.ProbeTimeout, "How long to wait for the controller to become reachable")

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

	logger = logger.With(slog.String("role", "participant"))
	m := metrics.New("participant")

	if env.MetricsAddr != "" {
		router := chi.NewRouter()
		router.Method(http.MethodGet, "/metrics", m.Handler())

		server := &http.Server{Addr: env.MetricsAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

		//goland:noinspection GoUnhandledErrorResult
		defer server.Close()

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("failed to serve metrics", slog.Any("error", err))
			}
		}()
	}

	h := participant.New(participant.Options{
		Logger:       logger,
		Journal:      journal.New(logger, env.LogLimit),
		Metrics:      m,
		ProbeTimeout: env.ProbeTimeout,
	})

	if err := h.Connect(ctx, env.Address); err != nil {
		return err
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sc:
		logger.Warn("shutdown signal", slog.String("signal", sig.String()))
		return h.Disconnect()
	case <-h.Done():
		logger.Info("session ended")
		return nil
	}
}

func main() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: slog.LevelDebug})
	logger := slog.New(handler)

	if err := doMain(logger); err != nil {
		logger.Error("failed to run", slog.Any("error", err))
		os.Exit(1)
	}
}
