package cmd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/plotski/torstream/internal/cachedb"
	"github.com/plotski/torstream/internal/preset"
	"github.com/plotski/torstream/internal/torrent"
)

var (
	announceURL    string
	source         string
	comment        string
	pieceLengthExp *uint // for 2^n piece length, nil means automatic
	outputPath     string
	torrentName    string
	excludes       []string
	presetName     string
	presetFile     string
	isPrivate      bool
	noDate         bool
	overwrite      bool
	noCache        bool
	cacheDir       string
	verbose        bool
	quiet          bool
)

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a new torrent file",
	Long: `Create a new torrent file from a file or directory.
Piece hashes are cached by file layout: creating a second torrent for the
same file set (for a different tracker, say) skips re-hashing entirely.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().SortFlags = false
	createCmd.Flags().BoolP("help", "h", false, "help for create")
	createCmd.Flags().MarkHidden("help")

	createCmd.Flags().StringVarP(&announceURL, "tracker", "t", "", "announce URL (required unless set by preset)")
	createCmd.Flags().StringVarP(&source, "source", "s", "", "source string (required unless set by preset)")
	createCmd.Flags().StringVarP(&comment, "comment", "c", "", "add comment")
	createCmd.Flags().StringVarP(&outputPath, "output", "o", "", "set output path (default: <name>.torrent)")
	createCmd.Flags().StringVarP(&torrentName, "name", "n", "", "set torrent name (default: basename of target)")
	createCmd.Flags().StringArrayVarP(&excludes, "exclude", "e", nil, "glob patterns for files to exclude")
	createCmd.Flags().StringVarP(&presetName, "preset", "P", "", "use preset from config file")
	createCmd.Flags().StringVar(&presetFile, "preset-file", "", "preset config file (default: presets.yaml in known locations)")
	createCmd.Flags().BoolVarP(&isPrivate, "private", "p", true, "make torrent private")
	createCmd.Flags().BoolVarP(&noDate, "no-date", "d", false, "don't write creation date")
	createCmd.Flags().BoolVarP(&overwrite, "overwrite", "f", false, "overwrite existing torrent file")
	createCmd.Flags().BoolVar(&noCache, "no-cache", false, "don't read or write cache torrents")
	createCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "cache torrent directory (default: user cache dir)")
	createCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "be verbose")
	createCmd.Flags().BoolVar(&quiet, "quiet", false, "reduced output mode")

	var defaultPieceLength uint
	createCmd.Flags().UintVarP(&defaultPieceLength, "piece-length", "l", 0, "set piece length to 2^n bytes (14-24, automatic if not specified)")
	createCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("piece-length") {
			pieceLengthExp = &defaultPieceLength
		}
	}
}

// applyPreset merges preset values into opts. Command-line flags win
// over preset values, preset values win over hardcoded defaults.
func applyPreset(cmd *cobra.Command, opts *torrent.CreateOptions) error {
	if presetName == "" {
		return nil
	}

	presetPath, err := preset.FindPresetFile(presetFile)
	if err != nil {
		return fmt.Errorf("could not find preset file: %w", err)
	}
	presets, err := preset.Load(presetPath)
	if err != nil {
		return fmt.Errorf("could not load presets: %w", err)
	}
	presetOpts, err := presets.GetPreset(presetName)
	if err != nil {
		return err
	}

	if opts.Announce == "" {
		opts.Announce = presetOpts.Announce
	}
	if opts.Source == "" {
		opts.Source = presetOpts.Source
	}
	if opts.Comment == "" {
		opts.Comment = presetOpts.Comment
	}
	if len(opts.ExcludePatterns) == 0 {
		opts.ExcludePatterns = presetOpts.ExcludePatterns
	}
	if opts.PieceLengthExp == nil && presetOpts.PieceLength != 0 {
		pieceLen := presetOpts.PieceLength
		opts.PieceLengthExp = &pieceLen
	}
	if !cmd.Flags().Changed("private") && presetOpts.Private != nil {
		opts.IsPrivate = *presetOpts.Private
	}
	if !cmd.Flags().Changed("no-date") && presetOpts.NoDate != nil {
		opts.NoDate = *presetOpts.NoDate
	}
	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(args[0]); err != nil {
		return fmt.Errorf("invalid path %q: %w", args[0], err)
	}
	if announceURL != "" {
		if _, err := url.Parse(announceURL); err != nil {
			return fmt.Errorf("invalid tracker URL %q: %w", announceURL, err)
		}
	}

	start := time.Now()

	display := torrent.NewDisplay(torrent.NewFormatter(verbose))
	display.SetQuiet(quiet)

	out := outputPath
	if out != "" && !strings.HasSuffix(out, ".torrent") {
		out += ".torrent"
	}

	opts := torrent.CreateOptions{
		Path:            args[0],
		Name:            torrentName,
		Announce:        announceURL,
		Source:          source,
		Comment:         comment,
		OutputPath:      out,
		Overwrite:       overwrite,
		ExcludePatterns: excludes,
		PieceLengthExp:  pieceLengthExp,
		IsPrivate:       isPrivate,
		NoDate:          noDate,
		Version:         version,
		CacheRoot:       cacheDir,
		NoCache:         noCache,
		OnProgress:      display.HashProgress(),
	}
	if verbose {
		opts.OnFiles = display.ShowFileTree
	}
	if err := applyPreset(cmd, &opts); err != nil {
		return err
	}

	result, err := torrent.Create(opts)
	if err != nil {
		return err
	}
	if result.Torrent == nil {
		// output existed and overwrite was off
		fmt.Printf("%s exists, use --overwrite to regenerate\n", result.TorrentPath)
		return nil
	}

	recordCacheUse(result, opts)

	display.ShowTorrentInfo(result.Torrent)
	display.ShowOutputPathWithTime(result.TorrentPath, time.Since(start), result.FromCache)

	return nil
}

// recordCacheUse updates the cache ledger. Ledger failures only degrade
// cache bookkeeping, they never fail the creation.
func recordCacheUse(result *torrent.CreateResult, opts torrent.CreateOptions) {
	if opts.NoCache || result.CacheKey == "" {
		return
	}

	root := opts.CacheRoot
	if root == "" {
		root = torrent.DefaultCacheRoot()
	}
	ledger, err := cachedb.Open(filepath.Join(root, "ledger.db"))
	if err != nil {
		return
	}
	defer ledger.Close()

	if result.FromCache {
		_ = ledger.Touch(result.CacheKey)
		return
	}

	info := result.Torrent.GetInfo()
	cachePath, err := torrent.CachePath(root, info.Name, result.CacheKey, false)
	if err != nil {
		return
	}
	_ = ledger.Record(cachedb.Entry{
		Key:    result.CacheKey,
		Name:   info.Name,
		Path:   cachePath,
		Size:   info.TotalLength(),
		Pieces: len(info.Pieces) / 20,
	})
}
