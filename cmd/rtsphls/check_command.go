package main

import (
	"errors"
	"fmt"

	"github.com/mantonx/rtsphls/internal/database"
	"github.com/mantonx/rtsphls/internal/deps"
	"github.com/spf13/cobra"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and external dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			ffmpeg := deps.CheckFFmpeg(cmd.Context(), cfg.Worker.FFmpegPath)
			statuses := []deps.Status{ffmpeg}

			rows := make([][]string, 0, len(statuses)+1)
			for _, s := range statuses {
				state := "ok"
				detail := s.Path
				if s.Version != "" {
					detail += " (" + s.Version + ")"
				}
				if !s.Available {
					state = "missing"
					detail = s.Detail
				}
				rows = append(rows, []string{s.Name, state, detail})
			}

			dbState, dbDetail := "ok", cfg.Database.Type
			if db, err := database.Open(cfg.Database, newNullLogger()); err != nil {
				if errors.Is(err, database.ErrDisabled) {
					dbState = "disabled"
				} else {
					dbState, dbDetail = "error", err.Error()
				}
			} else {
				if err := database.Ping(db); err != nil {
					dbState, dbDetail = "error", err.Error()
				}
				database.Close(db)
			}
			rows = append(rows, []string{"Database", dbState, dbDetail})

			out := cmd.OutOrStdout()
			if path := ctx.configPath(); path != "" {
				fmt.Fprintf(out, "Config: %s\n", path)
			} else {
				fmt.Fprintln(out, "Config: defaults")
			}
			fmt.Fprintln(out, renderTable([]string{"Dependency", "Status", "Detail"}, rows, nil))

			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required dependency(s) missing", len(missing))
			}
			if dbState == "error" {
				return fmt.Errorf("database check failed")
			}
			return nil
		},
	}
}
