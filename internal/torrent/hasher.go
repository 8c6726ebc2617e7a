package torrent

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Progress reports hashing throughput to the caller.
type Progress struct {
	PiecesDone  int
	PiecesTotal int
	Percent     float64
	BytesPerSec float64
	Elapsed     time.Duration
}

// ProgressFunc receives periodic hashing progress. Returning true
// requests cancellation; hashing stops and nothing is written.
type ProgressFunc func(Progress) bool

type pieceHasher struct {
	pieces     [][]byte
	pieceLen   int64
	numPieces  int
	files      []fileEntry
	onProgress ProgressFunc
	bufferPool *sync.Pool
	readSize   int

	startTime   time.Time
	bytesHashed int64
	cancelled   int32
}

func newPieceHasher(files []fileEntry, pieceLen int64, numPieces int, onProgress ProgressFunc) *pieceHasher {
	return &pieceHasher{
		pieces:     make([][]byte, numPieces),
		pieceLen:   pieceLen,
		numPieces:  numPieces,
		files:      files,
		onProgress: onProgress,
	}
}

// optimizeForWorkload determines read buffer size and worker count
// based on the characteristics of the input files.
func (h *pieceHasher) optimizeForWorkload() (int, int) {
	if len(h.files) == 0 {
		return 0, 0
	}

	var totalSize int64
	for _, f := range h.files {
		totalSize += f.length
	}
	avgFileSize := totalSize / int64(len(h.files))

	var readSize, numWorkers int

	switch {
	case len(h.files) == 1:
		if totalSize < 1<<20 {
			readSize = 64 << 10
			numWorkers = 1
		} else if totalSize < 1<<30 {
			readSize = 1 << 20
			numWorkers = 2
		} else {
			readSize = 4 << 20
			numWorkers = 4
		}
	case avgFileSize < 1<<20:
		readSize = 256 << 10
		numWorkers = min(8, runtime.NumCPU())
	case avgFileSize < 10<<20:
		readSize = 1 << 20
		numWorkers = min(4, runtime.NumCPU())
	default:
		readSize = 4 << 20
		numWorkers = min(2, runtime.NumCPU())
	}

	if numWorkers > h.numPieces {
		numWorkers = h.numPieces
	}
	return readSize, numWorkers
}

func (h *pieceHasher) isCancelled() bool {
	return atomic.LoadInt32(&h.cancelled) == 1
}

func (h *pieceHasher) progress(done int) Progress {
	elapsed := time.Since(h.startTime)
	var rate float64
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(atomic.LoadInt64(&h.bytesHashed)) / secs
	}
	var percent float64
	if h.numPieces > 0 {
		percent = float64(done) / float64(h.numPieces) * 100
	}
	return Progress{
		PiecesDone:  done,
		PiecesTotal: h.numPieces,
		Percent:     percent,
		BytesPerSec: rate,
		Elapsed:     elapsed,
	}
}

// hashPieces coordinates the parallel hashing of all pieces. Pieces are
// distributed evenly across workers; progress is reported periodically
// through the progress callback, which may cancel the run.
func (h *pieceHasher) hashPieces(numWorkers int) error {
	h.readSize, numWorkers = h.optimizeForWorkload()
	if numWorkers == 0 {
		return nil
	}

	h.bufferPool = &sync.Pool{
		New: func() interface{} {
			return make([]byte, h.readSize)
		},
	}
	h.startTime = time.Now()

	// give the caller a chance to cancel before any disk work starts
	if h.onProgress != nil && h.onProgress(h.progress(0)) {
		return ErrCancelled
	}

	var completedPieces uint64
	piecesPerWorker := (h.numPieces + numWorkers - 1) / numWorkers
	errorsCh := make(chan error, numWorkers)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * piecesPerWorker
		end := min(start+piecesPerWorker, h.numPieces)

		wg.Add(1)
		go func(startPiece, endPiece int) {
			defer wg.Done()
			if err := h.hashPieceRange(startPiece, endPiece, &completedPieces); err != nil {
				errorsCh <- err
			}
		}(start, end)
	}

	// report progress in a separate goroutine; stopped explicitly once
	// the workers are done so a failed worker cannot strand it
	monitorStop := make(chan struct{})
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-monitorStop:
				return
			case <-ticker.C:
				completed := atomic.LoadUint64(&completedPieces)
				if h.onProgress != nil && h.onProgress(h.progress(int(completed))) {
					atomic.StoreInt32(&h.cancelled, 1)
				}
			}
		}
	}()

	wg.Wait()
	close(monitorStop)
	<-monitorDone
	close(errorsCh)

	for err := range errorsCh {
		if err != nil {
			return err
		}
	}
	if h.isCancelled() {
		return ErrCancelled
	}

	if h.onProgress != nil {
		h.onProgress(h.progress(h.numPieces))
	}
	return nil
}

// hashPieceRange hashes the pieces in [startPiece, endPiece). It keeps
// per-file readers open across pieces to avoid reopening, seeks only
// when the position is off, and reads in pooled buffers.
func (h *pieceHasher) hashPieceRange(startPiece, endPiece int, completedPieces *uint64) error {
	buf := h.bufferPool.Get().([]byte)
	defer h.bufferPool.Put(buf)

	hasher := sha1.New()
	readers := make(map[string]*fileReader)
	defer func() {
		for _, r := range readers {
			r.file.Close()
		}
	}()

	var totalLength int64
	for _, f := range h.files {
		totalLength += f.length
	}

	for pieceIndex := startPiece; pieceIndex < endPiece; pieceIndex++ {
		if h.isCancelled() {
			return ErrCancelled
		}

		pieceOffset := int64(pieceIndex) * h.pieceLen
		pieceLength := h.pieceLen

		// the last piece may be shorter than the others
		if remaining := totalLength - pieceOffset; remaining < pieceLength {
			pieceLength = remaining
		}

		hasher.Reset()
		remainingPiece := pieceLength

		for _, file := range h.files {
			if pieceOffset >= file.offset+file.length {
				continue
			}
			if remainingPiece <= 0 {
				break
			}

			readStart := pieceOffset - file.offset
			if readStart < 0 {
				readStart = 0
			}
			readLength := file.length - readStart
			if readLength > remainingPiece {
				readLength = remainingPiece
			}

			reader, ok := readers[file.path]
			if !ok {
				f, err := os.OpenFile(file.path, os.O_RDONLY, 0)
				if err != nil {
					return fmt.Errorf("failed to open file %s: %w", file.path, err)
				}
				reader = &fileReader{file: f, position: 0, length: file.length}
				readers[file.path] = reader
			}

			if reader.position != readStart {
				if _, err := reader.file.Seek(readStart, io.SeekStart); err != nil {
					return fmt.Errorf("failed to seek in file %s: %w", file.path, err)
				}
				reader.position = readStart
			}

			remaining := readLength
			for remaining > 0 {
				n := int(min(remaining, int64(len(buf))))

				read, err := io.ReadFull(reader.file, buf[:n])
				if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
					return fmt.Errorf("failed to read file %s: %w", file.path, err)
				}

				hasher.Write(buf[:read])
				remaining -= int64(read)
				remainingPiece -= int64(read)
				reader.position += int64(read)
				pieceOffset += int64(read)
				atomic.AddInt64(&h.bytesHashed, int64(read))
			}
		}

		h.pieces[pieceIndex] = hasher.Sum(nil)
		atomic.AddUint64(completedPieces, 1)
	}

	return nil
}
