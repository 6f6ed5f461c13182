package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
)

func (s *session) photoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photo",
		Short: "Capture and manage photos",
	}
	cmd.AddCommand(
		s.photoAddCmd(),
		s.photoListCmd(),
		s.photoRmCmd(),
		s.photoRetryCmd(),
	)
	return cmd
}

func (s *session) photoAddCmd() *cobra.Command {
	var (
		in    services.CaptureInput
		taken string
	)
	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Import an image file as a captured photo",
		Long:  "Import an image file. The capture time comes from --taken, then the EXIF DateTime tag, then the file modification time.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if taken != "" {
				ts, err := time.Parse(time.RFC3339, taken)
				if err != nil {
					return fmt.Errorf("--taken: %w", err)
				}
				in.Timestamp = ts
			}

			app, err := s.application(ctx)
			if err != nil {
				return err
			}
			app.probe(ctx)

			p, err := app.importer.ImportFile(ctx, args[0], in)
			if err != nil {
				return err
			}
			s.printf("photo %s captured (%d bytes, taken %s)\n", p.ID, p.Size, p.Timestamp.Format(time.RFC3339))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.FolderID, "folder", "", "local folder id (required)")
	f.StringVar(&in.HouseID, "house", "", "local house id")
	f.StringVar(&in.SubVillageID, "subvillage", "", "local sub-village id (derived from --house when omitted)")
	f.StringVar(&in.VillageID, "village", "", "local village id (derived from --house when omitted)")
	f.StringVar(&in.Location, "location", "", "free-form location, e.g. GPS coordinates")
	f.StringVar(&in.Description, "description", "", "photo description")
	f.StringVar(&taken, "taken", "", "capture time in RFC 3339")
	return cmd
}

func (s *session) photoListCmd() *cobra.Command {
	var (
		statusFlag string
		folder     string
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List photos stored on this device",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := s.application(ctx)
			if err != nil {
				return err
			}

			if folder != "" {
				mds, err := app.photos.ListByFolder(ctx, folder)
				if err != nil {
					return err
				}
				list := make([]*models.Photo, 0, len(mds))
				for _, md := range mds {
					p, err := app.photos.Get(ctx, md.PhotoID)
					if err != nil {
						return err
					}
					if statusFlag == "" || string(p.SyncStatus) == statusFlag {
						list = append(list, p)
					}
				}
				s.printPhotos(list)
				return nil
			}

			var list []*models.Photo
			if statusFlag != "" {
				list, err = app.photos.ListByStatus(ctx, models.PhotoStatus(statusFlag))
			} else {
				list, err = app.photos.List(ctx)
			}
			if err != nil {
				return err
			}
			s.printPhotos(list)
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "only photos in this state (pending, syncing, failed, synced)")
	cmd.Flags().StringVar(&folder, "folder", "", "only photos filed under this folder id")
	return cmd
}

func (s *session) photoRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a photo from this device",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := s.application(ctx)
			if err != nil {
				return err
			}
			if err := app.photos.Delete(ctx, args[0]); err != nil {
				return err
			}
			s.printf("photo %s deleted\n", args[0])
			return nil
		},
	}
}

func (s *session) photoRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Return failed photos and failed changes to the sync queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := s.application(ctx)
			if err != nil {
				return err
			}
			app.probe(ctx)
			photos, queue, err := app.photos.RetryFailed(ctx)
			if err != nil {
				return err
			}
			s.printf("%d photos and %d queued changes reset to pending\n", photos, queue)
			return nil
		},
	}
}

func (s *session) printPhotos(list []*models.Photo) {
	if len(list) == 0 {
		s.printf("no photos\n")
		return
	}
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTAKEN\tSIZE\tSTATUS\tERROR")
	for _, p := range list {
		lastErr := p.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", p.ID, p.Timestamp.Format(time.RFC3339), p.Size, p.SyncStatus, lastErr)
	}
	_ = w.Flush()
}
