package torrent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"golang.org/x/sync/errgroup"
)

// VerifyOptions holds options for the verification process.
type VerifyOptions struct {
	TorrentPath string
	ContentPath string
	// Workers is the number of verification goroutines, 0 for automatic.
	Workers int
	// Display receives progress updates, nil for none.
	Display Displayer
}

// VerificationResult summarizes a full-content verification run.
type VerificationResult struct {
	TotalPieces   int
	GoodPieces    int
	BadPieces     int
	MissingPieces int
	// Completion is good pieces over checkable (non-missing) pieces,
	// in percent.
	Completion      float64
	BadPieceIndices []int
	MissingFiles    []string
}

// ContentLocation resolves the stream location for a torrent's content
// path: the directory that contains the torrent's top-level name.
func ContentLocation(info *metainfo.Info, contentPath string) string {
	contentPath = filepath.Clean(contentPath)
	if filepath.Base(contentPath) == info.Name {
		return filepath.Dir(contentPath)
	}
	return contentPath
}

// VerifyData checks the integrity of content files against a torrent
// file, piece by piece. Pieces backed by missing or wrong-sized files
// count as missing, not bad.
func VerifyData(opts VerifyOptions) (*VerificationResult, error) {
	mi, err := metainfo.LoadFromFile(opts.TorrentPath)
	if err != nil {
		return nil, fmt.Errorf("could not load torrent file %q: %w", opts.TorrentPath, err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal info dictionary from %q: %w", opts.TorrentPath, err)
	}

	location := ContentLocation(&info, opts.ContentPath)
	layout := NewLayout(&info)
	numPieces := layout.NumPieces()

	result := &VerificationResult{TotalPieces: numPieces}

	// report files that cannot back any piece up front
	for _, span := range layout.Files() {
		fi, err := os.Stat(filepath.Join(location, filepath.FromSlash(span.Path)))
		switch {
		case err != nil:
			result.MissingFiles = append(result.MissingFiles, span.Path)
		case fi.Size() != span.Length:
			result.MissingFiles = append(result.MissingFiles, span.Path+" (size mismatch)")
		}
	}

	if numPieces == 0 {
		return result, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > numPieces {
		workers = numPieces
	}

	var good, bad, missing uint64
	var mu sync.Mutex
	var badIndices []int

	done := func() int {
		return int(atomic.LoadUint64(&good) + atomic.LoadUint64(&bad) + atomic.LoadUint64(&missing))
	}

	if opts.Display != nil {
		opts.Display.ShowProgress(numPieces)
		monitorStop := make(chan struct{})
		defer func() {
			close(monitorStop)
			opts.Display.FinishProgress()
		}()
		go func() {
			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-monitorStop:
					return
				case <-ticker.C:
					opts.Display.UpdateProgress(done(), 0)
				}
			}
		}()
	}

	// each worker gets its own stream session: the handle cache is not
	// internally thread-safe
	var g errgroup.Group
	piecesPerWorker := (numPieces + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * piecesPerWorker
		end := min(start+piecesPerWorker, numPieces)
		if start >= end {
			continue
		}

		g.Go(func() error {
			stream := NewFileStream(&info, location)
			defer stream.Close()

			for i := start; i < end; i++ {
				status, err := stream.VerifyPiece(i)
				if err != nil {
					return err
				}
				switch status {
				case PieceGood:
					atomic.AddUint64(&good, 1)
				case PieceMissing:
					atomic.AddUint64(&missing, 1)
				case PieceBad:
					atomic.AddUint64(&bad, 1)
					mu.Lock()
					badIndices = append(badIndices, i)
					mu.Unlock()
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("verification failed: %w", err)
	}

	sort.Ints(badIndices)
	result.GoodPieces = int(good)
	result.BadPieces = int(bad)
	result.MissingPieces = int(missing)
	result.BadPieceIndices = badIndices

	if checkable := result.TotalPieces - result.MissingPieces; checkable > 0 {
		result.Completion = float64(result.GoodPieces) / float64(checkable) * 100.0
	}

	return result, nil
}
