package audit

import (
	"io"
	"path/filepath"
)

// Stats summarizes the audit trail on disk.
type Stats struct {
	TotalFiles    int
	TotalEntries  int64
	FirstSequence int64
	LastSequence  int64
	ByEvent       map[Event]int64
}

// GetStats scans every audit file and tallies entries per event type.
func GetStats(dir string) (Stats, error) {
	stats := Stats{ByEvent: make(map[Event]int64)}

	files, err := filepath.Glob(filepath.Join(dir, "vahti-*.audit"))
	if err != nil {
		return stats, err
	}
	stats.TotalFiles = len(files)

	for _, file := range files {
		if err := tallyFile(file, &stats); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

func tallyFile(path string, stats *Stats) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		stats.TotalEntries++
		stats.ByEvent[entry.Event]++
		if stats.FirstSequence == 0 || entry.Sequence < stats.FirstSequence {
			stats.FirstSequence = entry.Sequence
		}
		if entry.Sequence > stats.LastSequence {
			stats.LastSequence = entry.Sequence
		}
	}
}
