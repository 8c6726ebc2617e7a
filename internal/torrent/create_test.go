package torrent

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeContentDir writes a small content directory and returns its path.
func writeContentDir(t *testing.T, name string, files map[string][]byte) string {
	t.Helper()
	root := t.TempDir()
	content := filepath.Join(root, name)
	for rel, data := range files {
		full := filepath.Join(content, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(full, data, 0644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}
	return content
}

func baseCreateOptions(t *testing.T, contentPath string) CreateOptions {
	t.Helper()
	exp := uint(14)
	return CreateOptions{
		Path:           contentPath,
		Announce:       "https://tracker.example.org/announce",
		Source:         "EXAMPLE",
		OutputPath:     filepath.Join(t.TempDir(), "out.torrent"),
		PieceLengthExp: &exp,
		CacheRoot:      t.TempDir(),
		Version:        "test",
	}
}

func TestCreate_EmptyAnnounce(t *testing.T) {
	content := writeContentDir(t, "Stuff", map[string][]byte{"a": patternBytes(100, 1)})

	opts := baseCreateOptions(t, content)
	opts.Announce = ""

	_, err := Create(opts)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var terr *TorrentError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TorrentError, got %T", err)
	}
	if !strings.Contains(err.Error(), "Announce URL is empty") {
		t.Errorf("error %q does not mention empty announce", err)
	}
}

func TestCreate_EmptySource(t *testing.T) {
	content := writeContentDir(t, "Stuff", map[string][]byte{"a": patternBytes(100, 1)})

	opts := baseCreateOptions(t, content)
	opts.Source = ""

	_, err := Create(opts)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Source is empty") {
		t.Errorf("error %q does not mention empty source", err)
	}
}

func TestCreate_PieceLengthBounds(t *testing.T) {
	content := writeContentDir(t, "Stuff", map[string][]byte{"a": patternBytes(100, 1)})

	for _, exp := range []uint{13, 25} {
		opts := baseCreateOptions(t, content)
		e := exp
		opts.PieceLengthExp = &e
		if _, err := Create(opts); err == nil {
			t.Errorf("expected error for piece length exponent %d, got nil", exp)
		}
	}
}

func TestCreate_OverwriteShortCircuit(t *testing.T) {
	content := writeContentDir(t, "Stuff", map[string][]byte{"a": patternBytes(100, 1)})

	opts := baseCreateOptions(t, content)
	if err := os.WriteFile(opts.OutputPath, []byte("existing"), 0644); err != nil {
		t.Fatalf("failed to write existing file: %v", err)
	}

	result, err := Create(opts)
	if err != nil {
		t.Fatalf("Create unexpected error: %v", err)
	}
	if result.TorrentPath != opts.OutputPath {
		t.Errorf("TorrentPath = %q, want %q", result.TorrentPath, opts.OutputPath)
	}
	if result.Torrent != nil {
		t.Error("expected no regeneration when output exists and overwrite is off")
	}

	data, err := os.ReadFile(opts.OutputPath)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if string(data) != "existing" {
		t.Error("existing output was overwritten")
	}

	// with overwrite the file is regenerated
	opts.Overwrite = true
	result, err = Create(opts)
	if err != nil {
		t.Fatalf("Create with overwrite unexpected error: %v", err)
	}
	if result.Torrent == nil {
		t.Fatal("expected regeneration with overwrite")
	}
}

func TestCreate_ProducesVerifiableTorrent(t *testing.T) {
	content := writeContentDir(t, "Album", map[string][]byte{
		"01 - intro.flac": patternBytes(40000, 1),
		"02 - song.flac":  patternBytes(17000, 2),
		"cover.jpg":       patternBytes(3000, 3),
	})

	opts := baseCreateOptions(t, content)
	result, err := Create(opts)
	if err != nil {
		t.Fatalf("Create unexpected error: %v", err)
	}

	loaded, err := LoadFromFile(result.TorrentPath)
	if err != nil {
		t.Fatalf("could not load written torrent: %v", err)
	}
	if loaded.Announce != opts.Announce {
		t.Errorf("Announce = %q, want %q", loaded.Announce, opts.Announce)
	}

	info := loaded.GetInfo()
	if info.Source != opts.Source {
		t.Errorf("Source = %q, want %q", info.Source, opts.Source)
	}
	if info.Name != "Album" {
		t.Errorf("Name = %q, want %q", info.Name, "Album")
	}

	// every piece of the written torrent verifies against the content
	s := NewFileStream(info, filepath.Dir(content))
	defer s.Close()
	for i := 0; i < s.Layout().NumPieces(); i++ {
		status, err := s.VerifyPiece(i)
		if err != nil {
			t.Fatalf("VerifyPiece(%d) unexpected error: %v", i, err)
		}
		if status != PieceGood {
			t.Errorf("VerifyPiece(%d) = %v, want %v", i, status, PieceGood)
		}
	}
}

func TestCreate_Excludes(t *testing.T) {
	content := writeContentDir(t, "Stuff", map[string][]byte{
		"keep.mkv":     patternBytes(5000, 1),
		"drop.nfo":     patternBytes(100, 2),
		"Thumbs.db":    patternBytes(50, 3),
		"sub/note.txt": patternBytes(80, 4),
	})

	opts := baseCreateOptions(t, content)
	opts.ExcludePatterns = []string{"*.nfo", "sub/*"}

	result, err := Create(opts)
	if err != nil {
		t.Fatalf("Create unexpected error: %v", err)
	}

	info := result.Torrent.GetInfo()
	if len(info.Files) != 1 {
		t.Fatalf("expected 1 file in torrent, got %d", len(info.Files))
	}
	if got := strings.Join(info.Files[0].Path, "/"); got != "keep.mkv" {
		t.Errorf("kept file = %q, want %q", got, "keep.mkv")
	}
}

func TestCreate_CacheReuse(t *testing.T) {
	content := writeContentDir(t, "Stuff", map[string][]byte{
		"a": patternBytes(30000, 1),
		"b": patternBytes(12000, 2),
	})
	cacheRoot := t.TempDir()

	opts := baseCreateOptions(t, content)
	opts.CacheRoot = cacheRoot

	first, err := Create(opts)
	if err != nil {
		t.Fatalf("first Create unexpected error: %v", err)
	}
	if first.FromCache {
		t.Fatal("first Create should not hit the cache")
	}

	// second run for a different tracker reuses the hashes: the
	// progress callback must never fire
	opts2 := baseCreateOptions(t, content)
	opts2.CacheRoot = cacheRoot
	opts2.Announce = "https://other.example.net/announce"
	opts2.Source = "OTHER"
	progressCalls := 0
	opts2.OnProgress = func(Progress) bool {
		progressCalls++
		return false
	}

	second, err := Create(opts2)
	if err != nil {
		t.Fatalf("second Create unexpected error: %v", err)
	}
	if !second.FromCache {
		t.Fatal("second Create should hit the cache")
	}
	if progressCalls != 0 {
		t.Errorf("progress callback fired %d times on a cache hit", progressCalls)
	}
	if second.CacheKey != first.CacheKey {
		t.Errorf("cache keys differ: %q vs %q", second.CacheKey, first.CacheKey)
	}

	// the reused torrent still carries the requested tracker metadata
	if second.Torrent.Announce != opts2.Announce {
		t.Errorf("Announce = %q, want %q", second.Torrent.Announce, opts2.Announce)
	}
	secondInfo := second.Torrent.GetInfo()
	if secondInfo.Source != "OTHER" {
		t.Errorf("Source = %q, want %q", secondInfo.Source, "OTHER")
	}
	firstInfo := first.Torrent.GetInfo()
	if string(secondInfo.Pieces) != string(firstInfo.Pieces) {
		t.Error("piece hashes differ between fresh and cached torrent")
	}
}

func TestCreate_CacheKeyIgnoresContent(t *testing.T) {
	content := writeContentDir(t, "Stuff", map[string][]byte{"a": patternBytes(5000, 1)})
	cacheRoot := t.TempDir()

	opts := baseCreateOptions(t, content)
	opts.CacheRoot = cacheRoot

	first, err := Create(opts)
	if err != nil {
		t.Fatalf("first Create unexpected error: %v", err)
	}

	// rewrite the file with different bytes but identical size: the
	// key depends on layout only, so the stale hashes are reused
	if err := os.WriteFile(filepath.Join(content, "a"), patternBytes(5000, 99), 0644); err != nil {
		t.Fatalf("failed to rewrite file: %v", err)
	}

	opts.Overwrite = true
	second, err := Create(opts)
	if err != nil {
		t.Fatalf("second Create unexpected error: %v", err)
	}
	if second.CacheKey != first.CacheKey {
		t.Errorf("cache keys differ: %q vs %q", second.CacheKey, first.CacheKey)
	}
	if !second.FromCache {
		t.Error("expected cache hit for identical layout")
	}
}

func TestCreate_CorruptCacheIsMiss(t *testing.T) {
	content := writeContentDir(t, "Stuff", map[string][]byte{"a": patternBytes(5000, 1)})
	cacheRoot := t.TempDir()

	opts := baseCreateOptions(t, content)
	opts.CacheRoot = cacheRoot

	first, err := Create(opts)
	if err != nil {
		t.Fatalf("first Create unexpected error: %v", err)
	}

	cachePath, err := CachePath(cacheRoot, "Stuff", first.CacheKey, false)
	if err != nil {
		t.Fatalf("CachePath unexpected error: %v", err)
	}
	if err := os.WriteFile(cachePath, []byte("not a torrent"), 0644); err != nil {
		t.Fatalf("failed to corrupt cache: %v", err)
	}

	opts.Overwrite = true
	second, err := Create(opts)
	if err != nil {
		t.Fatalf("Create with corrupt cache unexpected error: %v", err)
	}
	if second.FromCache {
		t.Error("corrupt cache entry must read as a miss")
	}
}

func TestCreate_Cancellation(t *testing.T) {
	content := writeContentDir(t, "Stuff", map[string][]byte{"a": patternBytes(100000, 1)})

	opts := baseCreateOptions(t, content)
	opts.OnProgress = func(Progress) bool { return true }

	_, err := Create(opts)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if _, err := os.Stat(opts.OutputPath); !os.IsNotExist(err) {
		t.Error("cancelled generation must not write output")
	}
}

func TestCreate_FileTreeCallback(t *testing.T) {
	content := writeContentDir(t, "Show", map[string][]byte{
		"Season 1/e01.mkv": patternBytes(4000, 1),
		"Season 1/e02.mkv": patternBytes(4000, 2),
	})

	opts := baseCreateOptions(t, content)
	var tree FileTree
	opts.OnFiles = func(ft FileTree) { tree = ft }

	if _, err := Create(opts); err != nil {
		t.Fatalf("Create unexpected error: %v", err)
	}
	if tree == nil {
		t.Fatal("OnFiles was not called")
	}

	show, ok := tree["Show"].(FileTree)
	if !ok {
		t.Fatalf("tree root = %#v, want nested FileTree under %q", tree, "Show")
	}
	season, ok := show["Season 1"].(FileTree)
	if !ok {
		t.Fatalf("missing %q level: %#v", "Season 1", show)
	}
	if size, ok := season["e01.mkv"].(int64); !ok || size != 4000 {
		t.Errorf("e01.mkv leaf = %#v, want int64(4000)", season["e01.mkv"])
	}
}
