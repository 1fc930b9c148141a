package diff

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/idxbackup/internal/config"
	"github.com/schaermu/idxbackup/internal/ignore"
	"github.com/schaermu/idxbackup/internal/indexfile"
	"github.com/schaermu/idxbackup/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func perform(t *testing.T, source, index string, ign ignore.Ignore, order config.SortOrder) (uint64, []Change, error) {
	t.Helper()
	return Perform(testutil.Logger(), afero.NewOsFs(), source, index, "", ign, config.Settings{}, order)
}

// record writes the index record for the source file rel, as a previous run
// would have.
func record(t *testing.T, source, index, rel string) {
	t.Helper()
	fi, err := os.Lstat(filepath.Join(source, rel))
	require.NoError(t, err)
	testutil.WriteFile(t, filepath.Join(index, rel), indexfile.FromFileInfo(fi).Save())
}

func paths(cs []Change) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ChangePath()
	}
	return out
}

func TestPerform_NewTree(t *testing.T) {
	source, index, _ := testutil.Roots(t)
	testutil.WriteFile(t, filepath.Join(source, "a", "f.txt"), "0123456789")
	testutil.Touch(t, filepath.Join(source, "a", "f.txt"), epoch)

	total, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortLargestFirst)
	require.NoError(t, err)

	assert.Equal(t, uint64(10), total)
	mtime := uint64(epoch.Unix())
	assert.Equal(t, []Change{
		AddDir{Path: "a", IsNew: true, SubtreeBytes: 10},
		AddFile{Path: filepath.Join("a", "f.txt"), Record: indexfile.Record{Size: 10, LastModified: &mtime}},
	}, changes)
}

func TestPerform_EmptySource(t *testing.T) {
	source, index, _ := testutil.Roots(t)

	total, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, changes)
}

func TestPerform_Unchanged(t *testing.T) {
	source, index, _ := testutil.Roots(t)
	testutil.WriteFile(t, filepath.Join(source, "a", "f.txt"), "data")
	testutil.WriteFile(t, filepath.Join(source, "top.txt"), "top")
	testutil.Symlink(t, "a/f.txt", filepath.Join(source, "link"))
	record(t, source, index, filepath.Join("a", "f.txt"))
	record(t, source, index, "top.txt")
	testutil.Symlink(t, "a/f.txt", filepath.Join(index, "link"))

	total, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortLargestFirst)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, changes)
}

func TestPerform_ExistingDirWithChanges(t *testing.T) {
	source, index, _ := testutil.Roots(t)
	testutil.WriteFile(t, filepath.Join(source, "a", "old.txt"), "old")
	record(t, source, index, filepath.Join("a", "old.txt"))
	testutil.WriteFile(t, filepath.Join(source, "a", "new.txt"), "fresh")

	total, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), total)
	require.Len(t, changes, 2)
	assert.Equal(t, AddDir{Path: "a", IsNew: false, SubtreeBytes: 5}, changes[0])
	assert.Equal(t, filepath.Join("a", "new.txt"), changes[1].ChangePath())
}

func TestPerform_ModifiedFile(t *testing.T) {
	source, index, _ := testutil.Roots(t)
	f := filepath.Join(source, "f.txt")
	testutil.WriteFile(t, f, "v1")
	testutil.Touch(t, f, epoch)
	record(t, source, index, "f.txt")

	testutil.WriteFile(t, f, "v2")
	testutil.Touch(t, f, epoch.Add(time.Hour))

	_, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.IsType(t, AddFile{}, changes[0])

	// The same change is invisible when timestamps are ignored.
	_, changes, err = Perform(testutil.Logger(), afero.NewOsFs(), source, index, "", ignore.Ignore{},
		config.Settings{IgnoreTimestamp: true}, config.SortNone)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestPerform_BadIndexRecordForcesCopy(t *testing.T) {
	source, index, _ := testutil.Roots(t)
	testutil.WriteFile(t, filepath.Join(source, "f.txt"), "data")
	testutil.WriteFile(t, filepath.Join(index, "f.txt"), "garbage without separator\n")

	total, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), total)
	require.Len(t, changes, 1)
	assert.IsType(t, AddFile{}, changes[0])
}

func TestPerform_FileBecameDir(t *testing.T) {
	source, index, _ := testutil.Roots(t)
	testutil.WriteFile(t, filepath.Join(index, "x"), indexfile.Record{Size: 3}.Save())
	testutil.WriteFile(t, filepath.Join(source, "x", "y.txt"), "yy")

	total, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), total)
	require.Len(t, changes, 3)
	assert.Equal(t, RemoveFile{Path: "x"}, changes[0])
	assert.Equal(t, AddDir{Path: "x", IsNew: true, SubtreeBytes: 2}, changes[1])
	assert.Equal(t, filepath.Join("x", "y.txt"), changes[2].ChangePath())
}

func TestPerform_DirBecameFile(t *testing.T) {
	source, index, _ := testutil.Roots(t)
	testutil.WriteFile(t, filepath.Join(index, "x", "y.txt"), indexfile.Record{Size: 2}.Save())
	testutil.WriteFile(t, filepath.Join(source, "x"), "now a file")

	_, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
	require.NoError(t, err)

	require.Len(t, changes, 2)
	assert.Equal(t, RemoveDir{Path: "x"}, changes[0])
	assert.IsType(t, AddFile{}, changes[1])
	assert.Equal(t, "x", changes[1].ChangePath())
}

func TestPerform_RemovalsComeFirst(t *testing.T) {
	source, index, _ := testutil.Roots(t)
	testutil.WriteFile(t, filepath.Join(index, "z.txt"), indexfile.Record{Size: 1}.Save())
	testutil.WriteFile(t, filepath.Join(index, "old", "f"), indexfile.Record{Size: 1}.Save())
	testutil.Symlink(t, "z.txt", filepath.Join(index, "m-link"))
	testutil.WriteFile(t, filepath.Join(source, "a.txt"), "a")

	_, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
	require.NoError(t, err)

	assert.Equal(t, []Change{
		RemoveFile{Path: "m-link"},
		RemoveDir{Path: "old"},
		RemoveFile{Path: "z.txt"},
	}, changes[:3])
	require.Len(t, changes, 4)
	assert.Equal(t, "a.txt", changes[3].ChangePath())
}

func TestPerform_Symlinks(t *testing.T) {
	t.Run("new symlink is stored verbatim", func(t *testing.T) {
		source, index, _ := testutil.Roots(t)
		testutil.Symlink(t, "../elsewhere/./x", filepath.Join(source, "l"))

		total, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Equal(t, []Change{AddSymlink{Path: "l", Link: "../elsewhere/./x"}}, changes)
	})

	t.Run("symlink to directory is not followed", func(t *testing.T) {
		source, index, _ := testutil.Roots(t)
		testutil.WriteFile(t, filepath.Join(source, "d", "f.txt"), "f")
		testutil.Symlink(t, "d", filepath.Join(source, "l"))
		record(t, source, index, filepath.Join("d", "f.txt"))

		_, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
		require.NoError(t, err)
		assert.Equal(t, []Change{AddSymlink{Path: "l", Link: "d"}}, changes)
	})

	t.Run("retargeted symlink is replaced without removal", func(t *testing.T) {
		source, index, _ := testutil.Roots(t)
		testutil.Symlink(t, "new", filepath.Join(source, "l"))
		testutil.Symlink(t, "old", filepath.Join(index, "l"))

		_, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
		require.NoError(t, err)
		assert.Equal(t, []Change{AddSymlink{Path: "l", Link: "new"}}, changes)
	})

	t.Run("file became symlink", func(t *testing.T) {
		source, index, _ := testutil.Roots(t)
		testutil.Symlink(t, "x", filepath.Join(source, "l"))
		testutil.WriteFile(t, filepath.Join(index, "l"), indexfile.Record{Size: 1}.Save())

		_, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
		require.NoError(t, err)
		assert.Equal(t, []Change{RemoveFile{Path: "l"}, AddSymlink{Path: "l", Link: "x"}}, changes)
	})

	t.Run("symlink became file", func(t *testing.T) {
		source, index, _ := testutil.Roots(t)
		testutil.WriteFile(t, filepath.Join(source, "l"), "content")
		testutil.Symlink(t, "x", filepath.Join(index, "l"))

		_, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
		require.NoError(t, err)
		require.Len(t, changes, 2)
		assert.Equal(t, RemoveFile{Path: "l"}, changes[0])
		assert.IsType(t, AddFile{}, changes[1])
	})

	t.Run("symlink became dir", func(t *testing.T) {
		source, index, _ := testutil.Roots(t)
		testutil.WriteFile(t, filepath.Join(source, "l", "f"), "f")
		testutil.Symlink(t, "x", filepath.Join(index, "l"))

		_, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
		require.NoError(t, err)
		assert.Equal(t, []string{"l", "l", filepath.Join("l", "f")}, paths(changes))
		assert.Equal(t, RemoveFile{Path: "l"}, changes[0])
	})

	t.Run("dir became symlink aborts", func(t *testing.T) {
		source, index, _ := testutil.Roots(t)
		testutil.Symlink(t, "x", filepath.Join(source, "l"))
		testutil.Mkdir(t, filepath.Join(index, "l"))

		_, _, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAmbiguousTransition)

		var de *Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, filepath.Join(source, "l"), de.Path)
	})
}

func TestPerform_Ignored(t *testing.T) {
	source, index, _ := testutil.Roots(t)
	testutil.WriteFile(t, filepath.Join(source, "keep.txt"), "keep")
	testutil.WriteFile(t, filepath.Join(source, "debug.log"), "noise")
	testutil.WriteFile(t, filepath.Join(source, "cache", "blob"), "blob")
	testutil.WriteFile(t, filepath.Join(source, "logs.log", "inner.txt"), "dir named like a log")

	// A file backed up before it was ignored leaves the backup.
	record(t, source, index, "debug.log")

	ign, err := ignore.Parse("+* *.log\n*= cache\n")
	require.NoError(t, err)

	_, changes, err := perform(t, source, index, ign, config.SortNone)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"debug.log",
		"keep.txt",
		"logs.log",
		filepath.Join("logs.log", "inner.txt"),
	}, paths(changes))
	assert.Equal(t, RemoveFile{Path: "debug.log"}, changes[0])
}

func TestPerform_ExcludesIndexAndTargetInsideSource(t *testing.T) {
	source, _, _ := testutil.Roots(t)
	index := filepath.Join(source, ".idx")
	target := filepath.Join(source, "backup")
	testutil.WriteFile(t, filepath.Join(source, "f.txt"), "f")
	testutil.WriteFile(t, filepath.Join(index, "stale"), indexfile.Record{Size: 1}.Save())
	testutil.WriteFile(t, filepath.Join(target, "copy"), "copy")

	_, changes, err := Perform(testutil.Logger(), afero.NewOsFs(), source, index, target,
		ignore.Ignore{}, config.Settings{}, config.SortNone)
	require.NoError(t, err)

	assert.Equal(t, []string{"stale", "f.txt"}, paths(changes))
	assert.Equal(t, RemoveFile{Path: "stale"}, changes[0])
}

func TestPerform_SortOrder(t *testing.T) {
	source, index, _ := testutil.Roots(t)
	testutil.WriteFile(t, filepath.Join(source, "a_small.txt"), "s")
	testutil.WriteFile(t, filepath.Join(source, "b_big", "f"), string(make([]byte, 100)))
	testutil.WriteFile(t, filepath.Join(source, "c_medium.txt"), "0123456789")

	big, bigFile := "b_big", filepath.Join("b_big", "f")
	tests := []struct {
		order config.SortOrder
		want  []string
	}{
		{config.SortNone, []string{"a_small.txt", big, bigFile, "c_medium.txt"}},
		{config.SortLargestFirst, []string{big, bigFile, "c_medium.txt", "a_small.txt"}},
		{config.SortSmallestFirst, []string{"a_small.txt", "c_medium.txt", big, bigFile}},
	}

	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			total, changes, err := perform(t, source, index, ignore.Ignore{}, tt.order)
			require.NoError(t, err)
			assert.Equal(t, uint64(111), total)
			assert.Equal(t, tt.want, paths(changes))
		})
	}
}

func TestPerform_MissingSource(t *testing.T) {
	dir := t.TempDir()

	_, _, err := perform(t, filepath.Join(dir, "missing"), filepath.Join(dir, "index"), ignore.Ignore{}, config.SortNone)
	require.Error(t, err)

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPerform_RootNotADirectory(t *testing.T) {
	source, index, target := testutil.Roots(t)
	testutil.WriteFile(t, filepath.Join(source, "f"), "f")

	t.Run("index", func(t *testing.T) {
		testutil.WriteFile(t, index, "not a directory")
		defer os.Remove(index)

		_, _, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
		var diffErr *Error
		require.ErrorAs(t, err, &diffErr)
		assert.ErrorIs(t, err, ErrNotADirectory)
		assert.Equal(t, index, diffErr.Path)
	})

	t.Run("target", func(t *testing.T) {
		testutil.WriteFile(t, target, "not a directory")
		defer os.Remove(target)

		_, _, err := Perform(testutil.Logger(), afero.NewOsFs(), source, index, target,
			ignore.Ignore{}, config.Settings{}, config.SortNone)
		assert.ErrorIs(t, err, ErrNotADirectory)
	})

	t.Run("symlinked index root", func(t *testing.T) {
		realIndex := filepath.Join(filepath.Dir(index), "real-index")
		testutil.Mkdir(t, realIndex)
		testutil.Symlink(t, realIndex, index)
		defer os.Remove(index)

		_, changes, err := perform(t, source, index, ignore.Ignore{}, config.SortNone)
		require.NoError(t, err)
		assert.Equal(t, []string{"f"}, paths(changes))
	})
}

func TestWithin(t *testing.T) {
	tests := []struct {
		root, p string
		want    string
		ok      bool
	}{
		{"/src", "/src/.idx", ".idx", true},
		{"/src", "/src/a/b", "a/b", true},
		{"/src", "/src", "", false},
		{"/src", "/other", "", false},
		{"/src", "/srcfoo", "", false},
		{"/src/a", "/src", "", false},
	}

	for _, tt := range tests {
		got, ok := within(tt.root, tt.p)
		assert.Equal(t, tt.ok, ok, "within(%q, %q)", tt.root, tt.p)
		assert.Equal(t, tt.want, got, "within(%q, %q)", tt.root, tt.p)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Change{
		RemoveFile{Path: "gone"},
		RemoveDir{Path: "old"},
		AddDir{Path: "a", IsNew: true, SubtreeBytes: 7},
		AddFile{Path: "a/f", Record: indexfile.Record{Size: 7}},
		AddDir{Path: "b", SubtreeBytes: 3},
		AddFile{Path: "b/g", Record: indexfile.Record{Size: 3}},
		AddSymlink{Path: "l", Link: "a"},
	})

	assert.Equal(t, Summary{
		AddDirs:     2,
		NewDirs:     1,
		AddFiles:    2,
		AddSymlinks: 1,
		RemoveFiles: 1,
		RemoveDirs:  1,
		FileBytes:   10,
	}, s)
	assert.Equal(t, 7, s.Total())
}
