package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/calls"
	"github.com/mossy-p/call-signaling/internal/handlers"
	"github.com/mossy-p/call-signaling/internal/hub"
	"github.com/mossy-p/call-signaling/internal/logging"
	"github.com/mossy-p/call-signaling/internal/metrics"
	"github.com/mossy-p/call-signaling/internal/presence"
	"github.com/mossy-p/call-signaling/internal/redis"
	"github.com/mossy-p/call-signaling/internal/relay"
)

const shutdownTimeout = 10 * time.Second

// NewRootCmd returns the command that runs the signaling server
func NewRootCmd() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)

	cmd := &cobra.Command{
		Use:   "signaling",
		Short: "WebRTC call signaling relay over WebSockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	AddRunFlags(cmd, v)
	return cmd
}

// AddRunFlags declares the server flags and binds each one to its config key.
// Flag names use dashes; config keys use underscores.
func AddRunFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().String("port", v.GetString("port"), "HTTP listen port")
	cmd.Flags().String("environment", v.GetString("environment"), "development or production")
	cmd.Flags().String("allowed-origins", v.GetString("allowed_origins"), "Comma-separated allowed origins, * for any")
	cmd.Flags().String("log-level", v.GetString("log_level"), "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", v.GetString("log_file"), "Also write JSON logs to this file")
	cmd.Flags().Int64("max-message-bytes", v.GetInt64("max_message_bytes"), "Largest inbound WebSocket message")
	cmd.Flags().Int("send-buffer", v.GetInt("send_buffer"), "Outbound messages queued per connection")
	cmd.Flags().Bool("redis-enabled", v.GetBool("redis_enabled"), "Mirror presence and calls to Redis")
	cmd.Flags().String("redis-host", v.GetString("redis_host"), "Redis host")
	cmd.Flags().String("redis-port", v.GetString("redis_port"), "Redis port")
	cmd.Flags().Int("redis-db", v.GetInt("redis_db"), "Redis database")
	cmd.Flags().Duration("presence-ttl", v.GetDuration("presence_ttl"), "Expiry of mirrored presence keys")

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
}

func run(parent context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg, os.Stdout)
	if err != nil {
		return err
	}
	log := logging.Component(logger, "main")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	opts := []relay.Option{relay.WithMetrics(m)}
	if cfg.Redis.Enabled {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer client.Close()
		log.WithField("addr", cfg.Redis.Addr()).Info("Redis connection established")

		mirror := redis.NewMirror(client, cfg.Redis.PresenceTTL, logging.Component(logger, "redis"))
		go mirror.Run(ctx)
		opts = append(opts, relay.WithObserver(mirror))
	}

	r := relay.New(presence.NewRegistry(), calls.NewTracker(), logging.Component(logger, "relay"), opts...)
	h := hub.New(r, logging.Component(logger, "hub"))
	go h.Run(ctx)

	router := handlers.NewRouter(handlers.RouterDeps{
		Config:   cfg,
		Hub:      h,
		Metrics:  m,
		Gatherer: reg,
		Log:      logger,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":        cfg.Port,
			"environment": cfg.Environment,
		}).Info("Starting call signaling server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Graceful shutdown did not complete")
	}
	stop()
	<-h.Done()
	return nil
}
