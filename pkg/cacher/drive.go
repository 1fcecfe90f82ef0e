package cacher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomic writes data to path by writing to a sibling temp file and
// renaming over the destination, so readers never observe a torn write
// (§5 "the manifest file is rewritten fully per batch").
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func manifestPath(driveDir string) string {
	return filepath.Join(driveDir, "manifest.json")
}

func cacheFilePath(driveDir, filename string) string {
	return filepath.Join(driveDir, filename)
}

func readCacheFile(driveDir, filename string) ([]byte, error) {
	return os.ReadFile(cacheFilePath(driveDir, filename))
}

func writeCacheFile(driveDir, filename string, data []byte) error {
	return writeFileAtomic(cacheFilePath(driveDir, filename), data)
}

func loadManifestFromDisk(driveDir string) (Manifest, bool, error) {
	data, err := os.ReadFile(manifestPath(driveDir))
	if os.IsNotExist(err) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("decode manifest: %w", err)
	}
	return m, true, nil
}

func saveManifestToDisk(driveDir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return writeFileAtomic(manifestPath(driveDir), data)
}

// wipeDrive removes every cache file and the manifest, used both by Reset
// and by boot-time validation failure (§4.4 "triggers a full drive wipe").
func wipeDrive(driveDir string) error {
	entries, err := os.ReadDir(driveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(driveDir, 0o755)
		}
		return fmt.Errorf("read drive dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(driveDir, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

func deterministicFilename(timestamp int64, chainID, from, to uint64, protocolVersion uint32) string {
	return fmt.Sprintf("%d-chain%d-from%d-to%d-protocol%d.json", timestamp, chainID, from, to, protocolVersion)
}
