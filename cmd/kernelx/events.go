package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/kernelx/internal/appconfig"
	"pkt.systems/kernelx/internal/telemetry"
	"pkt.systems/kernelx/schema"
)

func newEventsCmd() *cobra.Command {
	var cfgPath string
	var limit int
	var sessionID string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded kernel status events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if !cfg.Telemetry.Enabled {
				return errors.New("telemetry is disabled (telemetry.enabled)")
			}
			store, err := telemetry.Open(cmd.Context(), cfg.Telemetry.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			var events []telemetry.Event
			if sessionID != "" {
				events, err = store.ListSession(cmd.Context(), schema.SessionID(sessionID), limit)
			} else {
				events, err = store.List(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TIME\tSESSION\tLANGUAGE\tSTATUS")
			for _, ev := range events {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.At.Local().Format(time.DateTime), ev.SessionID, ev.Language, ev.Status)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum events to show (0 for all)")
	cmd.Flags().StringVar(&sessionID, "session", "", "only show events for this session")
	return cmd
}
