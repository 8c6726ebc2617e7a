package torrent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

// CacheComment marks cache torrents for operator clarity. It is never
// parsed back.
const CacheComment = "This torrent is used to cache previously hashed pieces"

// cacheSignature is the canonical description of a file set that
// determines piece hashes: file paths and sizes in torrent order plus
// the piece length. Content is deliberately not part of the signature;
// identical layouts map to the same cache key regardless of hashing
// cost.
type cacheSignature struct {
	Files       []cacheFileRef `bencode:"files"`
	PieceLength int64          `bencode:"piece length"`
}

type cacheFileRef struct {
	Length int64  `bencode:"length"`
	Path   string `bencode:"path"`
}

// DefaultCacheRoot returns the directory where cache torrents and the
// cache ledger live.
func DefaultCacheRoot() string {
	return filepath.Join(xdg.CacheHome, "torstream")
}

// CacheKey returns the deterministic semantic hash of a file layout,
// stable across process runs.
func CacheKey(files []FileSpan, pieceLength int64) string {
	sig := cacheSignature{
		Files:       make([]cacheFileRef, 0, len(files)),
		PieceLength: pieceLength,
	}
	for _, f := range files {
		sig.Files = append(sig.Files, cacheFileRef{Length: f.Length, Path: f.Path})
	}

	data, err := bencode.Marshal(sig)
	if err != nil {
		// the signature is a plain struct, marshalling cannot fail
		panic(fmt.Sprintf("could not marshal cache signature: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// CachePath returns the deterministic path of a cache torrent under
// root. With createDir the parent directory is created on demand;
// failure to create it is a domain error.
func CachePath(root, name, key string, createDir bool) (string, error) {
	if createDir {
		if err := os.MkdirAll(root, 0755); err != nil {
			return "", torrentError(err, "could not create cache directory %q", root)
		}
	}
	return filepath.Join(root, fmt.Sprintf("%s.%s.torrent", name, key)), nil
}

// CopyInfoHashData copies only the hash-relevant fields from src to
// dst: pieces, piece length, name and length/files. Everything else on
// dst (announce, source, comment) is left untouched. This grafts a
// cache torrent's expensive hash data onto a fresh info dictionary
// carrying tracker-specific metadata.
func CopyInfoHashData(src, dst *metainfo.Info) {
	dst.Pieces = src.Pieces
	dst.PieceLength = src.PieceLength
	dst.Name = src.Name
	dst.Length = src.Length
	dst.Files = src.Files
}

// loadCachedInfo reads a cache torrent for the given layout. Any
// failure (absent file, unreadable bencode, layout mismatch) is a cache
// miss, never an error: the caller falls back to fresh hashing.
func loadCachedInfo(root, name, key string, files []FileSpan, pieceLength int64, numPieces int) *metainfo.Info {
	path, err := CachePath(root, name, key, false)
	if err != nil {
		return nil
	}

	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return nil
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil
	}

	// reject entries whose layout does not match what we are about to
	// build, even if the key collided
	if info.PieceLength != pieceLength || len(info.Pieces) != numPieces*20 {
		return nil
	}
	cached := NewLayout(&info).Files()
	if len(cached) != len(files) {
		return nil
	}
	for i := range files {
		if cached[i].Path != files[i].Path || cached[i].Length != files[i].Length {
			return nil
		}
	}

	return &info
}

// storeCachedInfo writes a reduced cache torrent holding only the
// hash-relevant fields of info. Writes land on a deterministic path so
// concurrent writers race harmlessly: last write wins, and a torn file
// reads as a cache miss.
func storeCachedInfo(root, name, key string, info *metainfo.Info) error {
	path, err := CachePath(root, name, key, true)
	if err != nil {
		return err
	}

	var reduced metainfo.Info
	CopyInfoHashData(info, &reduced)
	infoBytes, err := bencode.Marshal(&reduced)
	if err != nil {
		return torrentError(err, "could not encode cache torrent %q", path)
	}

	mi := &metainfo.MetaInfo{
		Comment:   CacheComment,
		InfoBytes: infoBytes,
	}

	f, err := os.Create(path)
	if err != nil {
		return torrentError(err, "could not create cache torrent %q", path)
	}
	if err := mi.Write(f); err != nil {
		f.Close()
		os.Remove(path)
		return torrentError(err, "could not write cache torrent %q", path)
	}
	if err := f.Close(); err != nil {
		return torrentError(err, "could not write cache torrent %q", path)
	}
	return nil
}
