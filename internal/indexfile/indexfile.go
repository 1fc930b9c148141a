package indexfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// ErrMalformed is wrapped by every error caused by the content of a record
// rather than by reading it.
var ErrMalformed = errors.New("malformed index file")

// ErrNoLen is returned when a record has no parsable Len key.
var ErrNoLen = fmt.Errorf("%w: no Len in IndexFile", ErrMalformed)

const (
	keyLen = "Len"
	keyAge = "Age"
)

// Record is the metadata stored in the index for one regular file.
type Record struct {
	Size uint64
	// LastModified is the modification time in epoch seconds, nil if unknown.
	LastModified *uint64
}

// FromFileInfo builds the record describing a source file.
func FromFileInfo(fi os.FileInfo) Record {
	r := Record{Size: uint64(fi.Size())}
	if mt := fi.ModTime(); !mt.IsZero() && !mt.Before(time.Unix(0, 0)) {
		secs := uint64(mt.Unix())
		r.LastModified = &secs
	}
	return r
}

// Save serializes the record.
func (r Record) Save() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%d\n", keyLen, r.Size)
	if r.LastModified != nil {
		fmt.Fprintf(&b, "%s=%d\n", keyAge, *r.LastModified)
	}
	return b.String()
}

// Load parses a record previously produced by Save.
func Load(src string) (Record, error) {
	kv, err := parseKeyValues(src)
	if err != nil {
		return Record{}, err
	}

	lenStr, ok := kv[keyLen]
	if !ok {
		return Record{}, ErrNoLen
	}
	size, err := strconv.ParseUint(lenStr, 10, 64)
	if err != nil {
		return Record{}, ErrNoLen
	}

	r := Record{Size: size}
	if ageStr, ok := kv[keyAge]; ok {
		// An unparsable Age is treated as unknown.
		if age, err := strconv.ParseUint(ageStr, 10, 64); err == nil {
			r.LastModified = &age
		}
	}
	return r, nil
}

// FromPath reads and parses the record at path. I/O errors are returned as
// is; content errors wrap ErrMalformed.
func FromPath(fs afero.Fs, path string) (Record, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Record{}, err
	}
	r, err := Load(string(data))
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func parseKeyValues(src string) (map[string]string, error) {
	kv := make(map[string]string)
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: nonempty line without '=' (line: %q)", ErrMalformed, line)
		}
		kv[key] = value
	}
	return kv, nil
}
