package metadata

import (
	"fmt"
	"path/filepath"
	"time"
)

// ThumbnailPrefix is prepended to the canonical filename for thumbnails.
const ThumbnailPrefix = "thum_"

// canonicalFileName builds the storage filename for a capture. Bursts of
// shots inside one second share a timestamp, the sequence suffix keeps
// their filenames distinct.
func canonicalFileName(capturedAt time.Time, seq int) string {
	return fmt.Sprintf("%ss%d.jpg", capturedAt.Format("20060102-150405"), seq)
}

// StoragePaths returns the canonical source and thumbnail paths for a file,
// scoped under the media root by project and analysis folder.
func StoragePaths(mediaRoot string, projectID uint, analysisFolder, fileName string) (sourcePath, thumbnailPath string) {
	base := filepath.Join(mediaRoot, fmt.Sprintf("%d", projectID), analysisFolder)
	sourcePath = filepath.Join(base, "source", fileName)
	thumbnailPath = filepath.Join(base, "thumbnail", ThumbnailPrefix+fileName)
	return sourcePath, thumbnailPath
}

func baseName(path string) string {
	return filepath.Base(path)
}

// Sequencer hands out per-second sequence numbers, starting at 1 for each
// distinct timestamp. Canonical filenames have second precision, so a camera
// burst needs the sequence suffix to keep its files apart. One Sequencer must
// span an entire ingest run: batches share the analysis folder, and a
// per-batch sequencer would restart the numbering and let a file in a later
// batch silently overwrite an earlier one's media.
type Sequencer struct {
	seen map[int64]int
}

// NewSequencer creates an empty sequencer for one ingest run.
func NewSequencer() *Sequencer {
	return &Sequencer{seen: make(map[int64]int)}
}

// Next returns the sequence number for a capture at t.
func (s *Sequencer) Next(t time.Time) int {
	key := t.Truncate(time.Second).Unix()
	s.seen[key]++
	return s.seen[key]
}
