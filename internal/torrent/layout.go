package torrent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

// Layout maps between the torrent's concatenated byte stream and its
// files and pieces. All offsets are gapless and strictly increasing per
// file boundary, so every position arithmetic below is exact.
type Layout struct {
	files       []FileSpan
	pieceLength int64
	totalSize   int64
}

// NewLayout derives the byte layout from a torrent's info dictionary.
// File order is taken from the info dictionary and is significant: it
// defines the global offsets.
func NewLayout(info *metainfo.Info) *Layout {
	l := &Layout{pieceLength: info.PieceLength}

	if info.IsDir() {
		l.files = make([]FileSpan, 0, len(info.Files))
		for _, f := range info.Files {
			l.files = append(l.files, FileSpan{
				Path:   info.Name + "/" + strings.Join(f.Path, "/"),
				Length: f.Length,
				offset: l.totalSize,
			})
			l.totalSize += f.Length
		}
	} else {
		l.files = []FileSpan{{Path: info.Name, Length: info.Length}}
		l.totalSize = info.Length
	}

	return l
}

// Files returns the file spans in torrent order.
func (l *Layout) Files() []FileSpan {
	return l.files
}

func (l *Layout) PieceLength() int64 {
	return l.pieceLength
}

func (l *Layout) TotalSize() int64 {
	return l.totalSize
}

// NumPieces returns the piece count, ceil(totalSize / pieceLength). An
// exact multiple produces no trailing empty piece.
func (l *Layout) NumPieces() int {
	if l.pieceLength <= 0 {
		return 0
	}
	return int((l.totalSize + l.pieceLength - 1) / l.pieceLength)
}

// FileOffset returns the global byte offset where the content of the
// file at fileIndex begins.
func (l *Layout) FileOffset(fileIndex int) int64 {
	return l.files[fileIndex].offset
}

// FileAt returns the file containing the byte at the given global
// position. A byte exactly at a file's first offset belongs to that
// file, not the previous one.
func (l *Layout) FileAt(pos int64) (FileSpan, error) {
	if pos < 0 || pos >= l.totalSize {
		return FileSpan{}, fmt.Errorf("byte index %d is out of range (0 to %d)", pos, l.totalSize-1)
	}
	i := sort.Search(len(l.files), func(i int) bool {
		return l.files[i].offset+l.files[i].Length > pos
	})
	return l.files[i], nil
}

// FilesInRange returns, in torrent order, every file overlapping the
// inclusive byte range [first, last]. An empty or out-of-layout range
// yields an empty slice, never an error.
func (l *Layout) FilesInRange(first, last int64) []FileSpan {
	spans := make([]FileSpan, 0, 2)
	for _, f := range l.files {
		if f.offset > last {
			break
		}
		if f.offset+f.Length <= first || f.Length == 0 {
			continue
		}
		spans = append(spans, f)
	}
	return spans
}

// PieceIndexes returns the sorted, deduplicated global piece indices
// that contain any byte of the file at fileIndex.
func (l *Layout) PieceIndexes(fileIndex int) []int {
	f := l.files[fileIndex]
	if f.Length == 0 {
		return nil
	}
	first := int(f.offset / l.pieceLength)
	last := int((f.offset + f.Length - 1) / l.pieceLength)
	indexes := make([]int, 0, last-first+1)
	for i := first; i <= last; i++ {
		indexes = append(indexes, i)
	}
	return indexes
}

// AbsolutePieceIndexes translates piece indices relative to the file's
// own piece list into absolute torrent piece indices. Negative relative
// indices count from the end of the file's piece list. Out-of-range
// indices are dropped; the result is sorted and deduplicated.
func (l *Layout) AbsolutePieceIndexes(fileIndex int, relative []int) []int {
	filePieces := l.PieceIndexes(fileIndex)
	n := len(filePieces)

	seen := make(map[int]struct{}, len(relative))
	absolute := make([]int, 0, len(relative))
	for _, rel := range relative {
		if rel < 0 {
			rel += n
		}
		if rel < 0 || rel >= n {
			continue
		}
		abs := filePieces[rel]
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		absolute = append(absolute, abs)
	}
	sort.Ints(absolute)
	return absolute
}

// pieceSpan returns the inclusive global byte range of a piece. The
// last piece may be shorter than the piece length.
func (l *Layout) pieceSpan(pieceIndex int) (first, last int64) {
	first = int64(pieceIndex) * l.pieceLength
	last = first + l.pieceLength - 1
	if last >= l.totalSize {
		last = l.totalSize - 1
	}
	return first, last
}
