package cli

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/status"
	"github.com/dmitrijs2005/fieldsync/internal/client/syncer"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

func (s *session) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronisation pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := s.application(ctx)
			if err != nil {
				return err
			}
			if !app.started {
				if err := app.orch.Recover(ctx); err != nil {
					return err
				}
			}

			res, err := app.orch.Sync(ctx)
			if errors.Is(err, common.ErrSyncInProgress) {
				s.printf("a sync pass is already running\n")
				return nil
			}
			if errors.Is(err, common.ErrOffline) {
				s.printf("server unreachable, local changes stay queued\n")
				return err
			}
			if res != nil {
				s.printResult(res)
			}
			return err
		},
	}
}

func (s *session) printResult(res *syncer.Result) {
	s.printf("pulled %d, folders %d (%d failed), changes %d (%d retrying, %d failed), photos %d (%d failed) in %s\n",
		res.Pulled,
		res.FoldersPushed, res.FoldersFailed,
		res.QueueCompleted, res.QueueRetried, res.QueueFailed,
		res.PhotosSynced, res.PhotosFailed,
		res.Duration.Round(time.Millisecond),
	)
	for _, e := range res.Errors() {
		s.printf("  %s\n", e)
	}
}

// statusReport is the status command's JSON shape.
type statusReport struct {
	status.Status
	Online       bool                       `json:"online"`
	Photos       map[models.PhotoStatus]int `json:"photos"`
	BlobBytes    int64                      `json:"blobBytes"`
	PurgedBlobs  int                        `json:"purgedBlobs"`
	StorageUsed  int64                      `json:"storageUsed"`
	StorageQuota int64                      `json:"storageQuota"`
}

func (s *session) statusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending work, last sync and storage use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := s.application(ctx)
			if err != nil {
				return err
			}

			st, err := app.bus.Refresh(ctx)
			if err != nil {
				return err
			}
			stats, err := app.photos.Stats(ctx)
			if err != nil {
				return err
			}
			used, quota, err := app.guard.Usage(ctx)
			if err != nil {
				return err
			}
			rep := statusReport{
				Status:       st,
				Online:       app.probe(ctx),
				Photos:       stats.Counts,
				BlobBytes:    stats.BlobBytes,
				PurgedBlobs:  stats.Purged,
				StorageUsed:  used,
				StorageQuota: quota,
			}

			if asJSON {
				enc := json.NewEncoder(s.out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			s.printReport(rep)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func (s *session) printReport(r statusReport) {
	conn := "offline"
	if r.Online {
		conn = "online"
	}
	last := "never"
	if !r.LastSyncTime.IsZero() {
		last = r.LastSyncTime.Local().Format(time.RFC3339)
	}
	s.printf("server:        %s\n", conn)
	s.printf("pending:       %d\n", r.TotalPending)
	s.printf("last sync:     %s\n", last)
	if r.LastError != "" {
		s.printf("last error:    %s\n", r.LastError)
	}
	s.printf("photos:        %d pending, %d syncing, %d failed, %d synced\n",
		r.Photos[models.PhotoPending], r.Photos[models.PhotoSyncing],
		r.Photos[models.PhotoFailed], r.Photos[models.PhotoSynced])
	s.printf("photo bytes:   %d (%d purged after upload)\n", r.BlobBytes, r.PurgedBlobs)
	if r.StorageQuota > 0 {
		s.printf("storage:       %d of %d bytes\n", r.StorageUsed, r.StorageQuota)
	} else {
		s.printf("storage:       %d bytes, no quota\n", r.StorageUsed)
	}
}

func (s *session) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the sync engine in the foreground",
		Long:  "Keep syncing while the server is reachable, serve the local status API and import photos dropped into the inbox directory. Stops on SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := s.application(ctx)
			if err != nil {
				return err
			}
			return app.Watch(ctx)
		},
	}
}

func (s *session) resetStoreCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset-store",
		Short: "Delete every local record, photo and queued change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !yes {
				if !stdinIsTerminal(s.stdin) {
					return errors.New("refusing to reset the store without --yes")
				}
				ok, err := Confirm(s.in, "This deletes all unsynced work on this device. Continue?", s.out)
				if err != nil {
					return err
				}
				if !ok {
					s.printf("aborted\n")
					return nil
				}
			}

			app, err := s.application(ctx)
			if err != nil {
				return err
			}
			if err := app.store.Reset(ctx); err != nil {
				return err
			}
			if _, err := app.bus.Refresh(ctx); err != nil {
				return err
			}
			s.printf("local store reset\n")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (s *session) repairStoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair-store",
		Short: "Recreate missing local containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := s.application(ctx)
			if err != nil {
				return err
			}
			recreated, err := app.store.Repair(ctx)
			if err != nil {
				return err
			}
			if len(recreated) == 0 {
				s.printf("store is intact\n")
				return nil
			}
			s.printf("recreated: %v\n", recreated)
			return nil
		},
	}
}
