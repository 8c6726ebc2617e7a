package torrent

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/fatih/color"
	progressbar "github.com/schollz/progressbar/v3"
)

type Display struct {
	formatter *Formatter
	bar       *progressbar.ProgressBar
	output    io.Writer
	quiet     bool
}

func NewDisplay(formatter *Formatter) *Display {
	return &Display{
		formatter: formatter,
		output:    os.Stdout,
	}
}

func (d *Display) SetQuiet(quiet bool) {
	d.quiet = quiet
}

func (d *Display) ShowProgress(total int) {
	if d.quiet {
		return
	}
	fmt.Fprintln(d.output)
	d.bar = progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetDescription("[cyan][bold]Hashing pieces...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (d *Display) UpdateProgress(completed int, rate float64) {
	if d.quiet || d.bar == nil {
		return
	}
	if rate > 0 {
		d.bar.Describe(fmt.Sprintf("[cyan][bold]Hashing pieces...[reset] %s/s", humanize.Bytes(uint64(rate))))
	}
	if err := d.bar.Set(completed); err != nil {
		log.Printf("failed to update progress bar: %v", err)
	}
}

func (d *Display) FinishProgress() {
	if d.quiet || d.bar == nil {
		return
	}
	if err := d.bar.Finish(); err != nil {
		log.Printf("failed to finish progress bar: %v", err)
	}
	fmt.Fprintln(d.output)
}

// HashProgress adapts the display to the hashing progress callback.
// It never cancels.
func (d *Display) HashProgress() ProgressFunc {
	return func(p Progress) bool {
		if d.bar == nil {
			d.ShowProgress(p.PiecesTotal)
		}
		d.UpdateProgress(p.PiecesDone, p.BytesPerSec)
		if p.PiecesDone >= p.PiecesTotal {
			d.FinishProgress()
		}
		return false
	}
}

var (
	cyan       = color.New(color.FgMagenta, color.Bold).SprintFunc()
	label      = color.New(color.Bold, color.FgHiWhite).SprintFunc()
	success    = color.New(color.FgHiGreen).SprintFunc()
	errorColor = color.New(color.FgRed).SprintFunc()
	white      = fmt.Sprint
)

func (d *Display) ShowTorrentInfo(t *Torrent) {
	if d.quiet {
		return
	}
	info := t.GetInfo()

	fmt.Fprintf(d.output, "\n%s\n", cyan("Torrent info:"))
	fmt.Fprintf(d.output, "  %-13s %s\n", label("Name:"), info.Name)
	fmt.Fprintf(d.output, "  %-13s %s\n", label("Hash:"), t.HashInfoBytes())
	fmt.Fprintf(d.output, "  %-13s %s\n", label("Size:"), humanize.Bytes(uint64(info.TotalLength())))
	fmt.Fprintf(d.output, "  %-13s %s\n", label("Piece length:"), humanize.Bytes(uint64(info.PieceLength)))
	fmt.Fprintf(d.output, "  %-13s %d\n", label("Pieces:"), len(info.Pieces)/20)

	if t.Announce != "" {
		fmt.Fprintf(d.output, "  %-13s %s\n", label("Tracker:"), success(t.Announce))
	}
	if info.Private != nil && *info.Private {
		fmt.Fprintf(d.output, "  %-13s %s\n", label("Private:"), "yes")
	}
	if info.Source != "" {
		fmt.Fprintf(d.output, "  %-13s %s\n", label("Source:"), info.Source)
	}
	if t.Comment != "" {
		fmt.Fprintf(d.output, "  %-13s %s\n", label("Comment:"), t.Comment)
	}
	if t.CreatedBy != "" {
		fmt.Fprintf(d.output, "  %-13s %s\n", label("Created by:"), t.CreatedBy)
	}
	if t.CreationDate != 0 {
		creationTime := time.Unix(t.CreationDate, 0)
		fmt.Fprintf(d.output, "  %-13s %s\n", label("Created on:"), creationTime.Format("2006-01-02 15:04:05 MST"))
	}
	if len(info.Files) > 0 {
		fmt.Fprintf(d.output, "  %-13s %d\n", label("Files:"), len(info.Files))
	}
}

// ShowFileTree renders the nested payload structure reported by the
// OnFiles callback.
func (d *Display) ShowFileTree(tree FileTree) {
	if d.quiet {
		return
	}
	fmt.Fprintf(d.output, "\n%s\n", cyan("File tree:"))
	d.showTreeLevel(tree, "")
}

func (d *Display) showTreeLevel(tree FileTree, indent string) {
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		prefix := indent + "├─"
		if i == len(names)-1 {
			prefix = indent + "└─"
		}
		switch child := tree[name].(type) {
		case FileTree:
			fmt.Fprintf(d.output, "%s %s\n", prefix, success(name))
			d.showTreeLevel(child, indent+"  ")
		case int64:
			fmt.Fprintf(d.output, "%s %s (%s)\n", prefix, success(name), label(humanize.Bytes(uint64(child))))
		}
	}
}

func (d *Display) ShowOutputPathWithTime(path string, duration time.Duration, fromCache bool) {
	if d.quiet {
		return
	}
	note := d.formatter.FormatDuration(duration)
	if fromCache {
		note += ", reused cached hashes"
	}
	fmt.Fprintf(d.output, "\n%s %s (%s)\n", success("Wrote"), white(path), cyan(note))
}

func (d *Display) ShowVerificationResult(result *VerificationResult, duration time.Duration, verbose bool) {
	fmt.Fprintf(d.output, "\n%s\n", cyan("Verification results:"))
	fmt.Fprintf(d.output, "  %-15s %d\n", label("Total pieces:"), result.TotalPieces)
	fmt.Fprintf(d.output, "  %-15s %s\n", label("Good pieces:"), success(result.GoodPieces))
	fmt.Fprintf(d.output, "  %-15s %s\n", label("Bad pieces:"), errorColor(result.BadPieces))
	fmt.Fprintf(d.output, "  %-15s %d\n", label("Missing pieces:"), result.MissingPieces)
	fmt.Fprintf(d.output, "  %-15s %.2f%%\n", label("Completion:"), result.Completion)
	fmt.Fprintf(d.output, "  %-15s %s\n", label("Elapsed:"), d.formatter.FormatDuration(duration))

	if len(result.MissingFiles) > 0 {
		fmt.Fprintf(d.output, "\n%s\n", errorColor("Missing files:"))
		for _, f := range result.MissingFiles {
			fmt.Fprintf(d.output, "  %s\n", f)
		}
	}
	if verbose && len(result.BadPieceIndices) > 0 {
		fmt.Fprintf(d.output, "\n%s %v\n", errorColor("Bad piece indices:"), result.BadPieceIndices)
	}
}

type Formatter struct {
	verbose bool
}

func NewFormatter(verbose bool) *Formatter {
	return &Formatter{verbose: verbose}
}

func (f *Formatter) FormatBytes(bytes int64) string {
	return humanize.Bytes(uint64(bytes))
}

func (f *Formatter) FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("elapsed %dms", d.Milliseconds())
	}
	return fmt.Sprintf("elapsed %.2fs", d.Seconds())
}
