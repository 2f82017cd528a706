package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"artvault/internal/inbox"
	"artvault/internal/layout"
	"artvault/internal/queue"
	"artvault/internal/server"
	"artvault/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background workers",
	Long: `Starts the HTTP API. With kafka_broker set, derive and mockup jobs go
through Kafka and this process also consumes them; otherwise they run
inline. With database_url set, transitions are journalled to Postgres.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths := layout.NewPaths(cfg.BaseDir)
	if err := paths.Ensure(); err != nil {
		return err
	}

	var journal storage.Journal = storage.NopJournal{}
	if cfg.DatabaseURL != "" {
		db, err := storage.NewStorage(ctx, cfg.DatabaseURL, appLog)
		if err != nil {
			return err
		}
		defer db.Close()
		journal = db
	}

	var (
		jobs     queue.Dispatcher
		inline   *queue.Inline
		producer *queue.Producer
	)
	if cfg.KafkaBroker != "" {
		producer = queue.NewProducer(cfg.KafkaBroker, cfg.KafkaTopic)
		defer producer.Close()
		jobs = producer
	} else {
		inline = queue.NewInline(appLog)
		jobs = inline
	}

	svc, err := newService(paths, jobs, journal)
	if err != nil {
		return err
	}
	if inline != nil {
		inline.SetHandler(svc.HandleJob)
	}
	srv := server.NewServer(cfg, svc, appLog)

	g, gctx := errgroup.WithContext(ctx)
	if producer != nil {
		reader := queue.NewReader(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroupID)
		g.Go(func() error {
			defer reader.Close()
			return queue.Consume(gctx, reader, svc.HandleJob, appLog)
		})
	}
	if cfg.InboxEnabled {
		watcher := inbox.NewWatcher(paths.Inbox, svc, appLog)
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		appLog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	return g.Wait()
}
