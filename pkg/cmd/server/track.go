package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TBoris/gorynych/log"
	"github.com/TBoris/gorynych/pkg/api"
	"github.com/TBoris/gorynych/pkg/config"
	"github.com/TBoris/gorynych/pkg/db/postgres"
	"github.com/TBoris/gorynych/pkg/eventstore"
	"github.com/TBoris/gorynych/pkg/service"
	"github.com/TBoris/gorynych/pkg/utils"
)

func NewTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "starts the track processing services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startTrackServer()
		},
	}
	cmd.Flags().StringVar(&config.PollInterval,
		"poll-interval",
		"2s",
		"interval between dispatch queue polls")
	cmd.Flags().IntVar(&config.PollLimit,
		"poll-limit",
		50,
		"max events fetched per poll")
	cmd.Flags().IntVar(&config.Workers,
		"workers",
		4,
		"size of the correction worker pool")
	cmd.Flags().StringVar(&config.LeaseTTL,
		"lease-ttl",
		"180s",
		"in-progress lease time-to-live")
	return cmd
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Warn("invalid duration, using default",
			log.String("value", val), log.Duration("default", defaultVal))
		return defaultVal
	}
	return d
}

//nolint:funlen // wiring
func startTrackServer() error {
	logger := setupLogger()

	waitTimeout := parseDuration(config.WaitForServices, 15*time.Second)
	if err := utils.WaitForTCP(
		utils.ExtractFromDBURL(config.DB), waitTimeout); err != nil {
		return err
	}
	if err := utils.WaitForHTTPResponse(config.APIBaseURL, waitTimeout); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolOpts := []postgres.PoolConfigOption{}
	if parseLogLevel(config.SQLLogLevel, log.InfoLevel) == log.DebugLevel {
		poolOpts = append(poolOpts, postgres.WithTracer(logger.Named("sql")))
	}
	pool, err := postgres.InitWithURL(ctx, config.DB, poolOpts...)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := eventstore.New(pool)
	if err = store.CheckIntegrity(ctx); err != nil {
		log.Error("event log corrupted", log.ErrorField(err))
		return err
	}

	nc, err := nats.Connect(config.NatsURL,
		nats.Name("gorynych-track"), nats.MaxReconnects(-1))
	if err != nil {
		return err
	}
	defer nc.Close()

	apiClient := api.NewClient(config.APIBaseURL)
	leaseTTL := parseDuration(config.LeaseTTL, 180*time.Second)

	poller := service.NewPoller(store,
		service.WithInterval(parseDuration(config.PollInterval, 2*time.Second)),
		service.WithBatchLimit(config.PollLimit),
		service.WithWorkers(config.Workers),
		service.WithPollerLogger(logger.Named("poller")))

	service.InitProcessorService(pool, store, apiClient,
		service.WithProcessorLeaseTTL(leaseTTL)).Register(poller)
	trackSvc := service.InitTrackService(pool, store, apiClient,
		service.WithTrackLeaseTTL(leaseTTL))
	trackSvc.Register(poller)
	service.NewNatsForwarder(nc).Register(poller)

	log.Info("Track server started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return trackSvc.ConsumePoints(gctx, nc) })
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("Track server terminated")
		return nil
	}
	return err
}
