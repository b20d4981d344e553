package main

import (
	"context"
	"fmt"

	"github.com/airbusgeo/cdse-dl/common"
	"github.com/airbusgeo/cdse-dl/downloader"
	"github.com/airbusgeo/cdse-dl/interface/catalog/odata"
	"github.com/airbusgeo/cdse-dl/interface/subscriptions"
	"github.com/airbusgeo/cdse-dl/service/log"
	env "github.com/allisson/go-env"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type notificationsConfig struct {
	Addr        string
	Username    string
	Password    string
	DownloadDir string
	Workers     int
	QueueSize   int
	Unzip       bool
}

func newServeNotificationsCmd() *cobra.Command {
	var cfg notificationsConfig
	cmd := &cobra.Command{
		Use:   "serve-notifications",
		Short: "Receive the notifications of push subscriptions",
		Long: `Serve the notification endpoint of push subscriptions (POST /notifications, basic auth),
with /health and /metrics. With --download-dir, the notified products are downloaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeNotifications(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", env.GetString("CDSE_NOTIFICATION_ADDR", ":8080"), "listen address")
	f.StringVar(&cfg.Username, "endpoint-username", env.GetString("CDSE_NOTIFICATION_USERNAME", ""), "username expected from the catalogue")
	f.StringVar(&cfg.Password, "endpoint-password", env.GetString("CDSE_NOTIFICATION_PASSWORD", ""), "password expected from the catalogue")
	f.StringVarP(&cfg.DownloadDir, "download-dir", "d", "", "download the created products in this directory")
	f.IntVarP(&cfg.Workers, "workers", "w", 2, "number of concurrent downloads")
	f.IntVar(&cfg.QueueSize, "queue-size", 100, "maximum number of pending downloads")
	f.BoolVar(&cfg.Unzip, "unzip", false, "extract the downloaded archives")
	return cmd
}

func runServeNotifications(ctx context.Context, cfg notificationsConfig) error {
	if cfg.DownloadDir == "" {
		log.Logger(ctx).Sugar().Infof("listening on %s", cfg.Addr)
		return subscriptions.NewReceiver(cfg.Username, cfg.Password, nil).ListenAndServe(ctx, cfg.Addr)
	}

	session, err := newSession(ctx)
	if err != nil {
		return err
	}
	d := downloader.New(session, downloader.WithResolver(odata.NewClient(nil)))

	queue := make(chan common.Product, cfg.QueueSize)
	sink := func(ctx context.Context, e subscriptions.Entity) error {
		if e.SubscriptionEvent != subscriptions.EventCreated {
			return nil
		}
		select {
		case queue <- e.Product():
			return nil
		default:
			return fmt.Errorf("download queue is full")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		log.Logger(gctx).Sugar().Infof("listening on %s", cfg.Addr)
		return subscriptions.NewReceiver(cfg.Username, cfg.Password, sink).ListenAndServe(gctx, cfg.Addr)
	})
	for range cfg.Workers {
		g.Go(func() error {
			for p := range queue {
				wctx := log.With(gctx, zap.String("product", p.Name))
				opts := []downloader.DownloadOption{downloader.Unarchive(cfg.Unzip)}
				var err error
				if p.Checksum == nil && p.ContentLength == 0 {
					// notification without value: only the id and the name are known
					_, err = d.DownloadFromID(wctx, "", p.Id, cfg.DownloadDir, opts...)
				} else {
					_, err = d.Download(wctx, p, cfg.DownloadDir, opts...)
				}
				if err != nil {
					log.Logger(wctx).Sugar().Errorf("%v", err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
