package torrent

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

// CreateOptions contains all options for creating a torrent.
type CreateOptions struct {
	// Path is the content file or directory.
	Path string
	// Name defaults to the basename of Path.
	Name string
	// Announce and Source are required. An empty value is always a
	// configuration mistake and is never silently defaulted.
	Announce string
	Source   string

	Comment         string
	OutputPath      string
	Overwrite       bool
	ExcludePatterns []string
	PieceLengthExp  *uint
	IsPrivate       bool
	NoDate          bool
	Version         string

	// CacheRoot overrides the cache torrent directory. Empty means
	// DefaultCacheRoot().
	CacheRoot string
	// NoCache disables reading and writing cache torrents.
	NoCache bool

	// OnFiles receives the payload structure before hashing starts.
	OnFiles func(FileTree)
	// OnProgress receives periodic hashing progress and may cancel.
	OnProgress ProgressFunc
}

// CreateResult describes the outcome of Create.
type CreateResult struct {
	// TorrentPath is where the torrent file was written (or already
	// existed when overwrite was off).
	TorrentPath string
	// FromCache is true when piece hashes were reused from a cache
	// torrent instead of being recomputed.
	FromCache bool
	// CacheKey is the semantic hash of the file layout.
	CacheKey string
	Torrent  *Torrent
}

// calculatePieceLength calculates the piece length exponent based on
// total size, bounded to 16 KiB (2^14) .. 16 MiB (2^24).
func calculatePieceLength(totalSize int64) uint {
	size := max(totalSize, 1)
	exp := int64(math.Ceil(math.Log2(float64(size)))/2.0 + 4.0)
	return uint(min(max(exp, 14), 24))
}

// collectFiles walks the content path and returns the hashing entries
// (absolute paths) and the matching logical spans (torrent-name
// prefixed, forward slashes), both in torrent order.
func collectFiles(contentPath, name string, excludePatterns []string) ([]fileEntry, []FileSpan, error) {
	pathInfo, err := os.Stat(contentPath)
	if err != nil {
		return nil, nil, torrentError(err, "could not read content path %q", contentPath)
	}

	if !pathInfo.IsDir() {
		entry := fileEntry{path: contentPath, length: pathInfo.Size()}
		span := FileSpan{Path: name, Length: pathInfo.Size()}
		return []fileEntry{entry}, []FileSpan{span}, nil
	}

	type walked struct {
		abs string
		rel string
		len int64
	}
	var found []walked

	err = filepath.Walk(contentPath, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(contentPath, filePath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if shouldIgnoreFile(rel, excludePatterns) {
			return nil
		}
		found = append(found, walked{abs: filePath, rel: rel, len: info.Size()})
		return nil
	})
	if err != nil {
		return nil, nil, torrentError(err, "could not walk content path %q", contentPath)
	}
	if len(found) == 0 {
		return nil, nil, torrentError(nil, "no files found in %q", contentPath)
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].rel < found[j].rel
	})

	entries := make([]fileEntry, 0, len(found))
	spans := make([]FileSpan, 0, len(found))
	var offset int64
	for _, w := range found {
		entries = append(entries, fileEntry{path: w.abs, length: w.len, offset: offset})
		spans = append(spans, FileSpan{Path: name + "/" + w.rel, Length: w.len, offset: offset})
		offset += w.len
	}
	return entries, spans, nil
}

// buildFileTree converts the logical spans into the nested name ->
// children-or-size mapping handed to the OnFiles callback.
func buildFileTree(spans []FileSpan) FileTree {
	tree := make(FileTree)
	for _, span := range spans {
		parts := strings.Split(span.Path, "/")
		node := tree
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(FileTree)
			if !ok {
				child = make(FileTree)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = span.Length
	}
	return tree
}

// Create builds a torrent file for the content at opts.Path.
//
// If the output path exists and Overwrite is off, Create returns
// immediately without regenerating. Otherwise it reuses piece hashes
// from a cache torrent matching the content's file layout when one
// exists, or hashes the content fresh and stores a cache copy for next
// time. The final torrent file is written all-or-nothing: no partial
// output is ever left in place.
func Create(opts CreateOptions) (*CreateResult, error) {
	name := opts.Name
	if name == "" {
		name = filepath.Base(filepath.Clean(opts.Path))
	}

	out := opts.OutputPath
	if out == "" {
		out = name + ".torrent"
	}

	if !opts.Overwrite {
		if _, err := os.Stat(out); err == nil {
			return &CreateResult{TorrentPath: out}, nil
		}
	}

	if strings.TrimSpace(opts.Announce) == "" {
		return nil, &TorrentError{Msg: "Announce URL is empty"}
	}
	if strings.TrimSpace(opts.Source) == "" {
		return nil, &TorrentError{Msg: "Source is empty"}
	}

	entries, spans, err := collectFiles(opts.Path, name, opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	var totalSize int64
	for _, e := range entries {
		totalSize += e.length
	}

	var pieceLengthExp uint
	if opts.PieceLengthExp == nil {
		pieceLengthExp = calculatePieceLength(totalSize)
	} else {
		pieceLengthExp = *opts.PieceLengthExp
		if pieceLengthExp < 14 || pieceLengthExp > 24 {
			return nil, torrentError(nil, "piece length exponent must be between 14 (16 KiB) and 24 (16 MiB), got: %d", pieceLengthExp)
		}
	}
	pieceLen := int64(1) << pieceLengthExp
	numPieces := int((totalSize + pieceLen - 1) / pieceLen)

	info := &metainfo.Info{
		Name:        name,
		PieceLength: pieceLen,
		Private:     &opts.IsPrivate,
		Source:      opts.Source,
	}

	pathInfo, err := os.Stat(opts.Path)
	if err != nil {
		return nil, torrentError(err, "could not read content path %q", opts.Path)
	}
	if pathInfo.IsDir() {
		info.Files = make([]metainfo.FileInfo, len(spans))
		for i, span := range spans {
			// drop the torrent name component, info paths are relative
			rel := strings.TrimPrefix(span.Path, name+"/")
			info.Files[i] = metainfo.FileInfo{
				Path:   strings.Split(rel, "/"),
				Length: span.Length,
			}
		}
	} else {
		info.Length = entries[0].length
	}

	cacheRoot := opts.CacheRoot
	if cacheRoot == "" {
		cacheRoot = DefaultCacheRoot()
	}
	key := CacheKey(spans, pieceLen)

	result := &CreateResult{TorrentPath: out, CacheKey: key}

	if !opts.NoCache {
		if cached := loadCachedInfo(cacheRoot, name, key, spans, pieceLen, numPieces); cached != nil {
			// announce and source do not affect hashing, so the cached
			// hash data is grafted onto the fresh info dictionary
			CopyInfoHashData(cached, info)
			info.Source = opts.Source
			result.FromCache = true
		}
	}

	if !result.FromCache {
		if opts.OnFiles != nil {
			opts.OnFiles(buildFileTree(spans))
		}

		hasher := newPieceHasher(entries, pieceLen, numPieces, opts.OnProgress)
		if err := hasher.hashPieces(0); err != nil {
			if errors.Is(err, ErrCancelled) {
				return nil, err
			}
			return nil, torrentError(err, "could not hash %q", opts.Path)
		}

		info.Pieces = make([]byte, len(hasher.pieces)*20)
		for i, piece := range hasher.pieces {
			copy(info.Pieces[i*20:], piece)
		}

		if !opts.NoCache {
			if err := storeCachedInfo(cacheRoot, name, key, info); err != nil {
				return nil, err
			}
		}
	}

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, torrentError(err, "could not encode info dictionary")
	}

	mi := &metainfo.MetaInfo{
		InfoBytes: infoBytes,
		Announce:  opts.Announce,
		Comment:   opts.Comment,
		CreatedBy: fmt.Sprintf("torstream/%s", opts.Version),
	}
	if !opts.NoDate {
		mi.CreationDate = time.Now().Unix()
	}

	if err := writeTorrentFile(mi, out); err != nil {
		return nil, err
	}

	result.Torrent = &Torrent{MetaInfo: mi}
	return result, nil
}

// writeTorrentFile writes mi to path through a temp file and rename so
// a failure never leaves a partial torrent in place.
func writeTorrentFile(mi *metainfo.MetaInfo, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return torrentError(err, "could not create torrent file %q", path)
	}
	if err := mi.Write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return torrentError(err, "could not write torrent file %q", path)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return torrentError(err, "could not write torrent file %q", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return torrentError(err, "could not write torrent file %q", path)
	}
	return nil
}

// GetInfo unmarshals the torrent's info dictionary.
func (t *Torrent) GetInfo() *metainfo.Info {
	info := &metainfo.Info{}
	_ = bencode.Unmarshal(t.InfoBytes, info)
	return info
}

// LoadFromFile loads a torrent file from disk.
func LoadFromFile(path string) (*Torrent, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not load torrent: %w", err)
	}
	return &Torrent{MetaInfo: mi}, nil
}
