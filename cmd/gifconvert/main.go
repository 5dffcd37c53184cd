package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chromi/internal/startup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gifconvert",
		Short: "Convert a video clip to a looping GIF without the server",
		Long: `gifconvert runs the same conversion as the chromi server on a local file:
a six second clip from the given start time, scaled down and encoded with
ffmpeg's palette filters, retried with the frame encoder if ffmpeg fails.

Examples:
  gifconvert convert clip.mp4 --start 00:00:12
  gifconvert convert clip.mov -o - > background.gif
  gifconvert probe clip.webm`,
		Version:       startup.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newConvertCmd())
	root.AddCommand(newProbeCmd())
	return root
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
