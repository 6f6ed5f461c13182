package cli

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
)

func (s *session) entityCmd(t models.EntityType) *cobra.Command {
	name := commandName(t)
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Manage %ss", t.Singular()),
	}
	cmd.AddCommand(
		s.entityAddCmd(t),
		s.entityListCmd(t),
		s.entityEditCmd(t),
		s.entityRmCmd(t),
	)
	return cmd
}

func (s *session) entityAddCmd(t models.EntityType) *cobra.Command {
	var (
		parent string
		attrs  []string
	)
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: fmt.Sprintf("Record a new %s", t.Singular()),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			in := services.EntityInput{ParentID: parent}
			if len(args) == 1 {
				in.Name = args[0]
			} else {
				// Interactive entry, one field per prompt.
				n, err := GetSimpleText(s.in, fmt.Sprintf("Enter %s name", t.Singular()), s.out)
				if err != nil {
					return err
				}
				in.Name = n
				if len(attrs) == 0 {
					if attrs, err = GetAttributes(s.in, s.out); err != nil {
						return err
					}
				}
			}
			a, err := ParseAttributes(attrs)
			if err != nil {
				return err
			}
			in.Attributes = a

			if p, ok := t.Parent(); ok && in.ParentID == "" {
				return fmt.Errorf("a %s needs --parent (a %s id)", t.Singular(), p.Singular())
			}

			app, err := s.application(ctx)
			if err != nil {
				return err
			}
			app.probe(ctx)

			e, err := app.entities.Create(ctx, t, in)
			if err != nil {
				return err
			}
			s.printf("%s %s created (%s)\n", t.Singular(), e.ID, describeSync(e))
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "local id of the parent record")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "attribute as name=value (repeatable)")
	return cmd
}

func (s *session) entityListCmd(t models.EntityType) *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   fmt.Sprintf("List %ss stored on this device", t.Singular()),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := s.application(ctx)
			if err != nil {
				return err
			}

			var list []*models.Entity
			if parent != "" {
				list, err = app.entities.ListChildren(ctx, t, parent)
			} else {
				list, err = app.entities.List(ctx, t)
			}
			if err != nil {
				return err
			}
			s.printEntities(list)
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "only records under this parent id")
	return cmd
}

func (s *session) entityEditCmd(t models.EntityType) *cobra.Command {
	var (
		name   string
		parent string
		attrs  []string
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: fmt.Sprintf("Change a %s", t.Singular()),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := s.application(ctx)
			if err != nil {
				return err
			}

			cur, err := app.entities.Get(ctx, t, args[0])
			if err != nil {
				return fmt.Errorf("%s %s: %w", t.Singular(), args[0], err)
			}
			in := services.EntityInput{Name: cur.Name, ParentID: parent}
			if cmd.Flags().Changed("name") {
				in.Name = name
			}
			if in.Attributes, err = ParseAttributes(attrs); err != nil {
				return err
			}

			app.probe(ctx)
			e, err := app.entities.Update(ctx, t, args[0], in)
			if err != nil {
				return err
			}
			s.printf("%s %s updated (%s)\n", t.Singular(), e.ID, describeSync(e))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&parent, "parent", "", "new parent id")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "replace attributes with name=value pairs (repeatable)")
	return cmd
}

func (s *session) entityRmCmd(t models.EntityType) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   fmt.Sprintf("Delete a %s and everything under it", t.Singular()),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := s.application(ctx)
			if err != nil {
				return err
			}
			app.probe(ctx)
			if err := app.entities.Delete(ctx, t, args[0]); err != nil {
				return err
			}
			s.printf("%s %s deleted\n", t.Singular(), args[0])
			return nil
		},
	}
}

func (s *session) printEntities(list []*models.Entity) {
	if len(list) == 0 {
		s.printf("no records\n")
		return
	}
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSERVER ID\tNAME\tPARENT\tSTATUS\tATTRIBUTES")
	for _, e := range list {
		server := "-"
		if e.ServerID != 0 {
			server = fmt.Sprint(e.ServerID)
		}
		parent := e.ParentID
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, server, e.Name, parent, e.SyncStatus, formatAttributes(e.Attributes))
	}
	_ = w.Flush()
}

func formatAttributes(m map[string]string) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ",")
}

func describeSync(e *models.Entity) string {
	if e.Synced() {
		return fmt.Sprintf("synced, server id %d", e.ServerID)
	}
	return "queued for sync"
}
