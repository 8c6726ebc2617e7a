package torrent

import (
	"os"

	"github.com/anacrolix/torrent/metainfo"
)

// Torrent represents a torrent file with additional functionality
type Torrent struct {
	*metainfo.MetaInfo
}

// FileSpan describes one file's slot within the torrent's concatenated
// byte stream. Path is relative to the stream location and uses forward
// slashes; for multi-file torrents it includes the torrent name as the
// leading component.
type FileSpan struct {
	Path   string
	Length int64
	offset int64
}

// Offset returns the global byte offset where the file's content begins.
func (s FileSpan) Offset() int64 {
	return s.offset
}

// FileTree is a nested name -> child mapping describing the torrent
// payload for display purposes. Leaves are file sizes (int64), inner
// nodes are FileTree values.
type FileTree map[string]interface{}

// internal file entry for hashing
type fileEntry struct {
	path   string
	length int64
	offset int64
}

// internal file reader for hashing
type fileReader struct {
	file     *os.File
	position int64
	length   int64
}
