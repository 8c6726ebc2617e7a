package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plotski/torstream/internal/torrent"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <torrent-file>",
	Short: "Inspect a torrent file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().SortFlags = false
	inspectCmd.Flags().BoolP("help", "h", false, "help for inspect")
	if err := inspectCmd.Flags().MarkHidden("help"); err != nil {
		fmt.Printf("failed to mark help flag as hidden: %v\n", err)
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	t, err := torrent.LoadFromFile(args[0])
	if err != nil {
		return fmt.Errorf("error loading torrent: %w", err)
	}

	display := torrent.NewDisplay(torrent.NewFormatter(true))
	display.ShowTorrentInfo(t)

	return nil
}
