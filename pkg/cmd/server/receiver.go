package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TBoris/gorynych/log"
	"github.com/TBoris/gorynych/pkg/config"
	"github.com/TBoris/gorynych/pkg/parsers"
	"github.com/TBoris/gorynych/pkg/receiver"
)

func NewReceiverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receiver",
		Short: "starts the tracker listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startReceiver()
		},
	}
	cmd.Flags().StringVar(&config.TR203Addr,
		"tr203-addr", ":9999", "listen addr for GlobalSat TR203 (tcp)")
	cmd.Flags().StringVar(&config.GH3000Addr,
		"gh3000-addr", ":9998", "listen addr for Teltonika GH3000 (udp)")
	cmd.Flags().StringVar(&config.App13Addr,
		"app13-addr", ":9997", "listen addr for PathMaker frames (tcp)")
	cmd.Flags().StringVar(&config.GT60Addr,
		"gt60-addr", ":9996", "listen addr for RedView GT60 (tcp)")
	cmd.Flags().StringVar(&config.MobileAddr,
		"mobile-addr", "", "listen addr for the legacy mobile tracker (tcp)")
	cmd.Flags().StringVar(&config.AuditLogPath,
		"audit-log", "", "path of the receiver audit log (empty disables)")
	return cmd
}

func startReceiver() error {
	logger := setupLogger()

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(config.NatsURL,
		nats.Name("gorynych-receiver"), nats.MaxReconnects(-1))
	if err != nil {
		return err
	}
	defer nc.Close()

	var audit receiver.AuditLog = receiver.DumbAuditLog{}
	if config.AuditLogPath != "" {
		audit = receiver.NewFileAuditLog(config.AuditLogPath)
	}
	svc := receiver.NewService(nc, audit, logger.Named("receiver"))

	g, gctx := errgroup.WithContext(ctx)
	tcp := map[string]string{
		config.TR203Addr:  parsers.DeviceTR203,
		config.App13Addr:  parsers.DeviceApp13,
		config.GT60Addr:   parsers.DeviceGT60,
		config.MobileAddr: parsers.DeviceMobile,
	}
	for addr, device := range tcp {
		if addr == "" {
			continue
		}
		ln := receiver.NewTCPListener(addr, device, svc)
		g.Go(func() error { return ln.Run(gctx) })
	}
	if config.GH3000Addr != "" {
		ln := receiver.NewUDPListener(config.GH3000Addr, parsers.DeviceGH3000, svc)
		g.Go(func() error { return ln.Run(gctx) })
	}

	log.Info("Receiver started")
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("Receiver terminated")
		return nil
	}
	return err
}
