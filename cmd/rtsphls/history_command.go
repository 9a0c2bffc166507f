package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mantonx/rtsphls/internal/database"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/session"
	"github.com/spf13/cobra"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			db, err := database.Open(cfg.Database, newNullLogger())
			if err != nil {
				if errors.Is(err, database.ErrDisabled) {
					return fmt.Errorf("session history is disabled (database.type is none)")
				}
				return err
			}
			defer database.Close(db)

			records, err := session.NewStore(db, newNullLogger()).List(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No sessions recorded")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{
					r.ID,
					string(r.Status),
					r.StartTime.Local().Format(time.DateTime),
					r.Duration().Round(time.Second).String(),
					strconv.Itoa(r.WorkerPID),
					r.SourceURL,
					r.ExitReason,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Started", "Duration", "PID", "Source", "Exit"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to list")
	return cmd
}
