package diff

// Summary counts changes by kind.
type Summary struct {
	AddDirs     int
	NewDirs     int
	AddFiles    int
	AddSymlinks int
	RemoveFiles int
	RemoveDirs  int
	// FileBytes is the total size of all added or updated files.
	FileBytes uint64
}

// Summarize counts the changes in cs.
func Summarize(cs []Change) Summary {
	var s Summary
	for _, c := range cs {
		switch c := c.(type) {
		case AddDir:
			s.AddDirs++
			if c.IsNew {
				s.NewDirs++
			}
		case AddFile:
			s.AddFiles++
			s.FileBytes += c.Record.Size
		case AddSymlink:
			s.AddSymlinks++
		case RemoveFile:
			s.RemoveFiles++
		case RemoveDir:
			s.RemoveDirs++
		}
	}
	return s
}

// Total returns the number of changes counted.
func (s Summary) Total() int {
	return s.AddDirs + s.AddFiles + s.AddSymlinks + s.RemoveFiles + s.RemoveDirs
}
