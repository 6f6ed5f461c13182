package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/client/connectivity"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/photoimport"
	"github.com/dmitrijs2005/fieldsync/internal/client/quota"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/client/status"
	"github.com/dmitrijs2005/fieldsync/internal/client/statusapi"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/client/syncer"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// App owns every long-lived component of the client. It is built once per
// process (or once per shell session) and shared by all commands.
type App struct {
	config *config.Config
	logger logging.Logger

	store    *store.Store
	remote   *client.HTTPClient
	monitor  *connectivity.Monitor
	bus      *status.Bus
	guard    *quota.Guard
	entities *services.EntityService
	photos   *services.PhotoService
	importer *photoimport.Importer
	orch     *syncer.Orchestrator

	started bool
}

// NewApp opens the local store and wires the sync engine around it. Log
// output goes to logOut unless the config names a log file.
func NewApp(ctx context.Context, c *config.Config, logOut io.Writer) (*App, error) {
	logger := logging.New(logging.Options{
		Level:   c.LogLevel,
		Format:  c.LogFormat,
		Backend: c.LogBackend,
		File:    c.LogFile,
		Service: "surveyctl",
		Output:  logOut,
	})

	st, err := store.Open(ctx, c.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	remote := client.NewHTTPClient(c.ServerURL, c.RequestTimeout)

	uploader, err := newUploader(ctx, c, remote)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	monitor := connectivity.New(remote,
		connectivity.WithProbeTimeout(c.HealthTimeout),
		connectivity.WithPollInterval(c.OnlineCheckInterval),
		connectivity.WithLogger(logger),
	)

	repos := st.Repositories()

	bus := status.NewBus(st, repos.Settings, c.StatusInterval, logger)
	if err := bus.Load(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load status: %w", err)
	}

	guard := quota.NewGuard(quota.NewSQLiteEstimator(st.DB()), repos.Photos, c.StorageQuota, c.QuotaThreshold, logger)

	orch := syncer.New(repos, remote,
		syncer.WithMonitor(monitor),
		syncer.WithStatus(bus),
		syncer.WithUploader(uploader),
		syncer.WithLogger(logger),
		syncer.WithConfig(syncer.Config{
			FolderAttempts: c.FolderRetryAttempts,
			FolderDelay:    c.FolderRetryDelay,
			Queue: syncer.QueueConfig{
				Attempts:  c.QueueAttempts,
				BaseDelay: c.QueueBaseDelay,
				MaxDelay:  c.QueueMaxDelay,
			},
			MaxPhotoSize: c.MaxPhotoSize,
			SurveyID:     c.SurveyID,
		}),
	)

	opts := []services.Option{
		services.WithRemote(remote),
		services.WithOnlineChecker(monitor),
		services.WithLogger(logger),
		services.WithTrigger(orch.TriggerSync),
	}
	es := services.NewEntityService(repos.Entities, repos.Queue, repos.Photos, models.NewIDGenerator(nil), opts...)
	ps := services.NewPhotoService(repos.Photos, repos.Entities, repos.Queue, guard, c.MaxPhotoSize, c.SurveyID, opts...)

	return &App{
		config:   c,
		logger:   logger,
		store:    st,
		remote:   remote,
		monitor:  monitor,
		bus:      bus,
		guard:    guard,
		entities: es,
		photos:   ps,
		importer: photoimport.NewImporter(ps, logger),
		orch:     orch,
	}, nil
}

func newUploader(ctx context.Context, c *config.Config, remote client.Client) (client.BlobUploader, error) {
	if c.S3Bucket == "" {
		return client.NewHTTPUploader(remote), nil
	}
	u, err := client.NewS3Uploader(ctx, client.S3Config{
		Bucket:    c.S3Bucket,
		Region:    c.S3Region,
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 uploader: %w", err)
	}
	return u, nil
}

// Close waits for background sync passes and closes the store.
func (a *App) Close() error {
	a.orch.Stop()
	return a.store.Close()
}

// probe refreshes the connectivity state before a command that may talk to
// the server directly.
func (a *App) probe(ctx context.Context) bool {
	return a.monitor.Check(ctx)
}

// start recovers interrupted work and attaches the orchestrator to the
// monitor. Later calls are no-ops.
func (a *App) start(ctx context.Context) error {
	if a.started {
		return nil
	}
	if err := a.orch.Start(ctx); err != nil {
		return err
	}
	a.started = true
	return nil
}

func (a *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Watch runs the engine in the foreground: connectivity polling, periodic
// status refresh, automatic sync on reconnect, the local status API and,
// when configured, the photo inbox watcher. It returns when ctx is done or
// a component fails.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.initSignalHandler(cancel)

	a.logger.Info(ctx, "Starting sync engine...")

	if err := a.start(ctx); err != nil {
		return err
	}

	// The first probe decides the initial state; an offline-to-online edge
	// afterwards starts a pass.
	if a.monitor.Check(ctx) {
		a.orch.TriggerSync()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(a.monitor.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(a.bus.Run(gctx)) })
	g.Go(func() error { return a.probeLoop(gctx) })

	if a.config.StatusAddr != "" {
		api := statusapi.New(a.config.StatusAddr, a.bus, a.orch, a.photos, a.logger)
		g.Go(func() error { return api.Run(gctx) })
	}

	if a.config.InboxDir != "" {
		w := photoimport.NewWatcher(a.config.InboxDir, a.importer, services.CaptureInput{},
			photoimport.WithWatcherLogger(a.logger))
		g.Go(func() error { return ignoreCanceled(w.Run(gctx)) })
	}

	err := g.Wait()
	a.logger.Info(ctx, "Sync engine stopped")
	return err
}

// probeLoop re-checks the server on the online-check interval so that a
// recovered server is noticed even when the interfaces never changed.
func (a *App) probeLoop(ctx context.Context) error {
	interval := a.config.OnlineCheckInterval
	if interval <= 0 {
		interval = connectivity.DefaultPollInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.monitor.Check(ctx)
		}
	}
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
