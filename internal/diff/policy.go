package diff

import (
	"github.com/schaermu/idxbackup/internal/config"
	"github.com/schaermu/idxbackup/internal/indexfile"
)

// ShouldUpdate decides whether a file described by next must be copied again
// given the record old stored in the index.
func ShouldUpdate(next, old indexfile.Record, s config.Settings) bool {
	if next.Size != old.Size {
		return true
	}
	if s.IgnoreTimestamp {
		return false
	}

	switch {
	case next.LastModified != nil && old.LastModified != nil:
		n, o := *next.LastModified, *old.LastModified
		switch {
		case n > o:
			return true
		case n < o:
			return !s.DontReplaceNewer
		default:
			return false
		}
	case next.LastModified != nil:
		return !s.DontReplaceIfTimestampFound
	case old.LastModified != nil:
		return s.ReplaceIfTimestampLost
	default:
		return s.ReplaceIfTimestampUnknown
	}
}
