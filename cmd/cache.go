package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/plotski/torstream/internal/cachedb"
	"github.com/plotski/torstream/internal/torrent"
)

var (
	cacheRootFlag string
	pruneAll      bool
	pruneOlder    time.Duration
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached piece hashes",
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cache torrents",
	Args:  cobra.NoArgs,
	RunE:  runCacheLs,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cache torrents",
	Long: `Deletes cache torrents and their ledger entries. By default only entries
whose last use is older than --older-than are removed; --all removes
everything.`,
	Args: cobra.NoArgs,
	RunE: runCachePrune,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheLsCmd)
	cacheCmd.AddCommand(cachePruneCmd)

	cacheCmd.PersistentFlags().StringVar(&cacheRootFlag, "cache-dir", "", "cache torrent directory (default: user cache dir)")
	cachePruneCmd.Flags().BoolVar(&pruneAll, "all", false, "delete all cache entries")
	cachePruneCmd.Flags().DurationVar(&pruneOlder, "older-than", 30*24*time.Hour, "delete entries unused for this long")
}

func cacheRoot() string {
	if cacheRootFlag != "" {
		return cacheRootFlag
	}
	return torrent.DefaultCacheRoot()
}

func openLedger() (*cachedb.Ledger, error) {
	root := cacheRoot()
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("could not create cache directory %q: %w", root, err)
	}
	return cachedb.Open(filepath.Join(root, "ledger.db"))
}

func runCacheLs(cmd *cobra.Command, args []string) error {
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	entries, err := ledger.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("cache is empty")
		return nil
	}

	fmt.Printf("%-18s %-30s %10s %6s %s\n", "KEY", "NAME", "SIZE", "HITS", "LAST USED")
	for _, e := range entries {
		name := e.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		fmt.Printf("%-18s %-30s %10s %6d %s\n",
			e.Key, name, humanize.Bytes(uint64(e.Size)), e.Hits,
			humanize.Time(e.LastHitAt))
	}
	return nil
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	entries, err := ledger.List()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-pruneOlder)
	removed := 0
	for _, e := range entries {
		if !pruneAll && e.LastHitAt.After(cutoff) {
			continue
		}
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "could not remove %q: %v\n", e.Path, err)
			continue
		}
		if err := ledger.Delete(e.Key); err != nil {
			return err
		}
		removed++
	}

	fmt.Printf("removed %d cache entries\n", removed)
	return nil
}
