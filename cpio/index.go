package cpio

import "hash/fnv"

// Index speeds up repeated Find lookups against one archive: List
// already walked the whole blob once, so building a name -> entry
// table over that result turns every later Find into an O(1) bucket
// chain walk instead of a second linear scan. The archive is read-only
// once booted, so unlike a live kernel hash table there is no Set/Del
// path and no need for per-bucket locking.
type Index struct {
	buckets []indexBucket
}

type indexBucket struct {
	entries []Entry
}

// BuildIndex lists archive and hashes every entry's name into a fixed
// bucket table sized to keep chains short for typical initrd entry
// counts.
func BuildIndex(archive []byte) (*Index, error) {
	entries, err := List(archive)
	if err != nil {
		return nil, err
	}
	size := nextPow2(len(entries)/4 + 1)
	idx := &Index{buckets: make([]indexBucket, size)}
	for _, e := range entries {
		b := &idx.buckets[bucketOf(e.Name, size)]
		b.entries = append(b.entries, e)
	}
	return idx, nil
}

// Find returns the entry named path, if present, without rescanning
// the archive.
func (idx *Index) Find(path string) (Entry, bool) {
	b := &idx.buckets[bucketOf(path, len(idx.buckets))]
	for _, e := range b.entries {
		if e.Name == path {
			return e, true
		}
	}
	return Entry{}, false
}

func bucketOf(name string, size int) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32() % uint32(size)
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
