package config

// Settings controls which files are replaced and in which order changes are
// produced. It is passed by value and never modified after construction.
type Settings struct {
	// don't update files just because their timestamp is different
	IgnoreTimestamp bool `yaml:"ignore_timestamp"`
	// keep newer files in the backup when the source file is older
	DontReplaceNewer bool `yaml:"dont_replace_newer"`
	// replace files whose timestamp is unknown in both source and index
	ReplaceIfTimestampUnknown bool `yaml:"replace_if_timestamp_unknown"`
	// replace files whose timestamp is unknown in source but known in index
	ReplaceIfTimestampLost bool `yaml:"replace_if_timestamp_lost"`
	// don't replace files whose timestamp is known in source but not in index
	DontReplaceIfTimestampFound bool `yaml:"dont_replace_if_timestamp_found"`

	DontSort          bool `yaml:"dont_sort"`
	SmallestFirst     bool `yaml:"smallest_first"`
	DontReverseOutput bool `yaml:"dont_reverse_output"`
}

// SortOrder is the order in which sibling additions are emitted.
type SortOrder int

const (
	SortNone SortOrder = iota
	SortLargestFirst
	SortSmallestFirst
)

// SortOrder derives the sort order from the display settings.
func (s Settings) SortOrder() SortOrder {
	switch {
	case s.DontSort:
		return SortNone
	case s.SmallestFirst:
		return SortSmallestFirst
	default:
		return SortLargestFirst
	}
}

func (o SortOrder) String() string {
	switch o {
	case SortLargestFirst:
		return "largest-first"
	case SortSmallestFirst:
		return "smallest-first"
	default:
		return "none"
	}
}
