package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"chromi/internal/transcoder"
)

func newProbeCmd() *cobra.Command {
	var ffprobe string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe <input>",
		Short: "Print clip duration, size and codec as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := transcoder.NewFFprobe(ffprobe, timeout).Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
	cmd.Flags().StringVar(&ffprobe, "ffprobe", "ffprobe", "ffprobe binary")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "probe time limit")
	return cmd
}
