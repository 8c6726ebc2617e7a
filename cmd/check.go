package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/plotski/torstream/internal/torrent"
)

// checkOptions encapsulates all the flags for the check command
type checkOptions struct {
	Verbose bool
	Quiet   bool
	Workers int
}

var checkOpts checkOptions

var checkCmd = &cobra.Command{
	Use:   "check <torrent-file> <content-path>",
	Short: "Verify the integrity of content against a torrent file",
	Long: `Checks if the data in the specified content path (file or directory) matches
the pieces defined in the torrent file. Pieces backed by missing files are
reported as missing rather than bad, so a partial download can be told apart
from a corrupted one.`,
	Args:                  cobra.ExactArgs(2),
	RunE:                  runCheck,
	DisableFlagsInUseLine: true,
	SilenceUsage:          true,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().SortFlags = false
	checkCmd.Flags().BoolVarP(&checkOpts.Verbose, "verbose", "v", false, "show list of bad piece indices")
	checkCmd.Flags().BoolVar(&checkOpts.Quiet, "quiet", false, "reduced output mode (prints only completion percentage)")
	checkCmd.Flags().IntVar(&checkOpts.Workers, "workers", 0, "number of worker goroutines for verification (0 for automatic)")
	checkCmd.SetUsageTemplate(`Usage:
  {{.CommandPath}} <torrent-file> <content-path> [flags]

Arguments:
  torrent-file   Path to the .torrent file
  content-path   Path to the directory or file containing the data

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}
`)
}

func runCheck(cmd *cobra.Command, args []string) error {
	torrentPath, contentPath := args[0], args[1]

	if _, err := os.Stat(torrentPath); err != nil {
		return fmt.Errorf("invalid torrent file path %q: %w", torrentPath, err)
	}
	if _, err := os.Stat(contentPath); err != nil {
		return fmt.Errorf("invalid content path %q: %w", contentPath, err)
	}

	start := time.Now()

	display := torrent.NewDisplay(torrent.NewFormatter(checkOpts.Verbose))
	display.SetQuiet(checkOpts.Quiet)

	if !checkOpts.Quiet {
		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Fprintf(os.Stdout, "\n%s\n", green("Verifying:"))
		fmt.Fprintf(os.Stdout, "  Torrent file: %s\n", cyan(torrentPath))
		fmt.Fprintf(os.Stdout, "  Content: %s\n", cyan(contentPath))
	}

	verifyOpts := torrent.VerifyOptions{
		TorrentPath: torrentPath,
		ContentPath: contentPath,
		Workers:     checkOpts.Workers,
	}
	if !checkOpts.Quiet {
		verifyOpts.Display = display
	}

	result, err := torrent.VerifyData(verifyOpts)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	if checkOpts.Quiet {
		fmt.Printf("%.2f%%\n", result.Completion)
	} else {
		display.ShowVerificationResult(result, time.Since(start), checkOpts.Verbose)
	}

	if result.BadPieces > 0 || len(result.MissingFiles) > 0 {
		return fmt.Errorf("verification failed or incomplete")
	}

	return nil
}
