package torrent

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/anacrolix/torrent/metainfo"
)

// PieceStatus is the outcome of verifying a single piece against the
// torrent's hash table.
type PieceStatus int

const (
	// PieceGood means the piece was read from disk and its hash matches.
	PieceGood PieceStatus = iota
	// PieceBad means the piece was read but its hash does not match.
	PieceBad
	// PieceMissing means the piece could not be read because a backing
	// file is absent or has the wrong size. It is not a verification
	// failure, it means "cannot verify".
	PieceMissing
)

func (s PieceStatus) String() string {
	switch s {
	case PieceGood:
		return "good"
	case PieceBad:
		return "bad"
	case PieceMissing:
		return "missing"
	default:
		return fmt.Sprintf("PieceStatus(%d)", int(s))
	}
}

// FileStream reads single pieces of a torrent from files on disk
// without loading entire files into memory. File handles are opened
// lazily on first access and memoized until Close; a stream therefore
// operates on a stable snapshot of the filesystem. Callers needing
// fresh filesystem state create a new stream.
//
// A FileStream is not safe for concurrent use. Piece reads have no
// ordering dependency on each other, so concurrent callers use one
// stream per goroutine.
type FileStream struct {
	layout   *Layout
	location string
	expected [][]byte
	handles  map[string]*os.File
}

// NewFileStream creates a stream session for a torrent whose content
// lives under location. For a torrent named "foo", location is the
// directory containing "foo". Close must be called to release handles.
func NewFileStream(info *metainfo.Info, location string) *FileStream {
	numPieces := len(info.Pieces) / sha1.Size
	expected := make([][]byte, numPieces)
	for i := range expected {
		expected[i] = info.Pieces[i*sha1.Size : (i+1)*sha1.Size]
	}

	return &FileStream{
		layout:   NewLayout(info),
		location: location,
		expected: expected,
		handles:  make(map[string]*os.File),
	}
}

// Layout returns the stream's byte layout.
func (s *FileStream) Layout() *Layout {
	return s.layout
}

// Close closes all memoized file handles and clears the handle cache.
// The stream must not be used afterwards.
func (s *FileStream) Close() error {
	var firstErr error
	for path, f := range s.handles {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("could not close %q: %w", path, err)
		}
	}
	s.handles = make(map[string]*os.File)
	return firstErr
}

func (s *FileStream) absPath(span FileSpan) string {
	return filepath.Join(s.location, filepath.FromSlash(span.Path))
}

// open returns a memoized read-only handle for the file, opening it on
// first request. A missing file is an expected condition and yields
// (nil, nil); a file that exists but cannot be opened is a content
// access error.
func (s *FileStream) open(span FileSpan) (*os.File, error) {
	if f, ok := s.handles[span.Path]; ok {
		return f, nil
	}

	f, err := os.OpenFile(s.absPath(span), os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			s.handles[span.Path] = nil
			return nil, nil
		}
		return nil, fmt.Errorf("could not open %q: %w", s.absPath(span), err)
	}
	s.handles[span.Path] = f
	return f, nil
}

// diskSize probes the actual on-disk size of the file. The second
// return value is false if the file does not exist or its size cannot
// be determined.
func (s *FileStream) diskSize(span FileSpan) (int64, bool) {
	fi, err := os.Stat(s.absPath(span))
	if err != nil {
		return 0, false
	}
	return fi.Size(), true
}

// checkPieceIndex validates a piece index, reporting the valid range.
func (s *FileStream) checkPieceIndex(pieceIndex int) error {
	numPieces := s.layout.NumPieces()
	if pieceIndex < 0 || pieceIndex >= numPieces {
		return fmt.Errorf("piece index %d is out of range (0 to %d)", pieceIndex, numPieces-1)
	}
	return nil
}

// ReadPiece returns the exact bytes of the piece at pieceIndex,
// concatenated across all files the piece spans. The last piece may be
// shorter than the piece length.
//
// A nil slice with a nil error means the piece is unavailable: a
// backing file is missing from disk or its on-disk size differs from
// the size declared in the torrent. Unavailable is a soft condition,
// never an error. An out-of-range index or an unreadable existing file
// is an error.
func (s *FileStream) ReadPiece(pieceIndex int) ([]byte, error) {
	if err := s.checkPieceIndex(pieceIndex); err != nil {
		return nil, err
	}

	first, last := s.layout.pieceSpan(pieceIndex)
	piece := make([]byte, 0, last-first+1)

	for _, span := range s.layout.FilesInRange(first, last) {
		if size, ok := s.diskSize(span); !ok || size != span.Length {
			return nil, nil
		}

		f, err := s.open(span)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, nil
		}

		// byte range of the piece within this file
		readStart := int64(0)
		if first > span.offset {
			readStart = first - span.offset
		}
		readEnd := span.Length
		if last < span.offset+span.Length-1 {
			readEnd = last - span.offset + 1
		}

		chunk := make([]byte, readEnd-readStart)
		if _, err := io.ReadFull(io.NewSectionReader(f, readStart, int64(len(chunk))), chunk); err != nil {
			// file shrank between the size probe and the read
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, nil
			}
			return nil, fmt.Errorf("could not read %q: %w", s.absPath(span), err)
		}
		piece = append(piece, chunk...)
	}

	if int64(len(piece)) != last-first+1 {
		return nil, nil
	}
	return piece, nil
}

// PieceHash returns the SHA1 digest of the piece at pieceIndex, or nil
// if the piece is unavailable.
func (s *FileStream) PieceHash(pieceIndex int) ([]byte, error) {
	piece, err := s.ReadPiece(pieceIndex)
	if err != nil || piece == nil {
		return nil, err
	}
	sum := sha1.Sum(piece)
	return sum[:], nil
}

// ExpectedPieceHashes returns the torrent's per-piece hash table as
// 20-byte digests. The slices alias the torrent's hash data and must
// not be modified.
func (s *FileStream) ExpectedPieceHashes() [][]byte {
	return s.expected
}

// VerifyPiece hashes the piece at pieceIndex from disk and compares it
// against the expected hash. Every call recomputes from disk so the
// result reflects live filesystem state.
func (s *FileStream) VerifyPiece(pieceIndex int) (PieceStatus, error) {
	hash, err := s.PieceHash(pieceIndex)
	if err != nil {
		return PieceBad, err
	}
	if hash == nil {
		return PieceMissing, nil
	}
	if bytes.Equal(hash, s.expected[pieceIndex]) {
		return PieceGood, nil
	}
	return PieceBad, nil
}
