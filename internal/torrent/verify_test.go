package torrent

import (
	"os"
	"path/filepath"
	"testing"
)

// createVerifiable writes content and a matching torrent file, and
// returns both paths.
func createVerifiable(t *testing.T, files map[string][]byte) (torrentPath, contentPath string) {
	t.Helper()

	contentPath = writeContentDir(t, "Release", files)
	opts := baseCreateOptions(t, contentPath)
	opts.NoCache = true

	result, err := Create(opts)
	if err != nil {
		t.Fatalf("Create unexpected error: %v", err)
	}
	return result.TorrentPath, contentPath
}

func TestVerifyData_AllGood(t *testing.T) {
	torrentPath, contentPath := createVerifiable(t, map[string][]byte{
		"a.mkv": patternBytes(40_000, 1),
		"b.mkv": patternBytes(25_000, 2),
	})

	result, err := VerifyData(VerifyOptions{
		TorrentPath: torrentPath,
		ContentPath: contentPath,
	})
	if err != nil {
		t.Fatalf("VerifyData unexpected error: %v", err)
	}

	if result.BadPieces != 0 || result.MissingPieces != 0 {
		t.Errorf("bad=%d missing=%d, want 0/0", result.BadPieces, result.MissingPieces)
	}
	if result.GoodPieces != result.TotalPieces {
		t.Errorf("good=%d total=%d, want all good", result.GoodPieces, result.TotalPieces)
	}
	if result.Completion != 100.0 {
		t.Errorf("Completion = %.2f, want 100.00", result.Completion)
	}
	if len(result.MissingFiles) != 0 {
		t.Errorf("MissingFiles = %v, want none", result.MissingFiles)
	}
}

func TestVerifyData_CorruptContent(t *testing.T) {
	torrentPath, contentPath := createVerifiable(t, map[string][]byte{
		"a.mkv": patternBytes(40_000, 1),
	})

	// corrupt one byte in the middle without changing the size
	path := filepath.Join(contentPath, "a.mkv")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	data[20_000] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	result, err := VerifyData(VerifyOptions{
		TorrentPath: torrentPath,
		ContentPath: contentPath,
	})
	if err != nil {
		t.Fatalf("VerifyData unexpected error: %v", err)
	}

	if result.BadPieces != 1 {
		t.Errorf("BadPieces = %d, want 1", result.BadPieces)
	}
	if len(result.BadPieceIndices) != 1 {
		t.Fatalf("BadPieceIndices = %v, want one index", result.BadPieceIndices)
	}
	// byte 20000 with 16 KiB pieces falls in piece 1
	if result.BadPieceIndices[0] != 1 {
		t.Errorf("bad piece index = %d, want 1", result.BadPieceIndices[0])
	}
	if result.Completion >= 100.0 {
		t.Errorf("Completion = %.2f, want < 100", result.Completion)
	}
}

func TestVerifyData_MissingFile(t *testing.T) {
	torrentPath, contentPath := createVerifiable(t, map[string][]byte{
		"a.mkv": patternBytes(40_000, 1),
		"b.mkv": patternBytes(25_000, 2),
	})

	if err := os.Remove(filepath.Join(contentPath, "b.mkv")); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}

	result, err := VerifyData(VerifyOptions{
		TorrentPath: torrentPath,
		ContentPath: contentPath,
	})
	if err != nil {
		t.Fatalf("VerifyData unexpected error: %v", err)
	}

	if result.MissingPieces == 0 {
		t.Error("expected missing pieces for a removed file")
	}
	if result.BadPieces != 0 {
		t.Errorf("BadPieces = %d, missing file must not count as bad", result.BadPieces)
	}
	if len(result.MissingFiles) != 1 {
		t.Fatalf("MissingFiles = %v, want one entry", result.MissingFiles)
	}
	if result.MissingFiles[0] != "Release/b.mkv" {
		t.Errorf("MissingFiles[0] = %q, want %q", result.MissingFiles[0], "Release/b.mkv")
	}

	// pieces fully inside the intact file still verify
	if result.GoodPieces == 0 {
		t.Error("expected good pieces from the intact file")
	}
}

func TestVerifyData_SizeMismatch(t *testing.T) {
	torrentPath, contentPath := createVerifiable(t, map[string][]byte{
		"a.mkv": patternBytes(40_000, 1),
	})

	if err := os.Truncate(filepath.Join(contentPath, "a.mkv"), 30_000); err != nil {
		t.Fatalf("failed to truncate: %v", err)
	}

	result, err := VerifyData(VerifyOptions{
		TorrentPath: torrentPath,
		ContentPath: contentPath,
	})
	if err != nil {
		t.Fatalf("VerifyData unexpected error: %v", err)
	}

	if result.MissingPieces != result.TotalPieces {
		t.Errorf("missing=%d total=%d, truncated file must make all its pieces missing",
			result.MissingPieces, result.TotalPieces)
	}
	if len(result.MissingFiles) != 1 || result.MissingFiles[0] != "Release/a.mkv (size mismatch)" {
		t.Errorf("MissingFiles = %v, want size mismatch entry", result.MissingFiles)
	}
}

func TestVerifyData_Workers(t *testing.T) {
	torrentPath, contentPath := createVerifiable(t, map[string][]byte{
		"a.mkv": patternBytes(100_000, 1),
	})

	for _, workers := range []int{1, 2, 8} {
		result, err := VerifyData(VerifyOptions{
			TorrentPath: torrentPath,
			ContentPath: contentPath,
			Workers:     workers,
		})
		if err != nil {
			t.Fatalf("VerifyData with %d workers unexpected error: %v", workers, err)
		}
		if result.GoodPieces != result.TotalPieces {
			t.Errorf("workers=%d: good=%d total=%d", workers, result.GoodPieces, result.TotalPieces)
		}
	}
}
