// Program mkinitrd assembles a newc-format cpio initrd image from a
// directory tree, writing the archive to stdout or a -o path.
//
// Usage: mkinitrd -o initrd.img rootdir
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"
)

func main() {
	out := flag.String("o", "", "output path (default: stdout)")
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: mkinitrd [-o initrd.img] rootdir")
	}
	root := flag.Arg(0)

	entries, err := collect(root)
	if err != nil {
		log.Fatalf("collecting %s: %v", root, err)
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("creating %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	ino := uint32(1)
	for _, e := range entries {
		if err := writeEntry(bw, ino, e.archiveName, e.mode, e.data); err != nil {
			log.Fatalf("writing %s: %v", e.archiveName, err)
		}
		ino++
	}
	if err := writeEntry(bw, ino, "TRAILER!!!", 0, nil); err != nil {
		log.Fatal(err)
	}
}

type fileEntry struct {
	archiveName string
	mode        uint32
	data        []byte // nil for directories
}

// collect walks root and returns every entry in a stable, sorted order
// (cpio has no directory index, so read-back performance only depends
// on reading order, not on any particular sort; sorting just makes
// mkinitrd's output reproducible across runs).
func collect(root string) ([]fileEntry, error) {
	var out []fileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			out = append(out, fileEntry{archiveName: rel, mode: 0o040000 | uint32(info.Mode().Perm())})
			return nil
		}
		if !d.Type().IsRegular() {
			return fmt.Errorf("mkinitrd: %s is not a regular file or directory", path)
		}

		data, err := mmapFile(path)
		if err != nil {
			return err
		}
		out = append(out, fileEntry{archiveName: rel, mode: 0o100000 | uint32(info.Mode().Perm()), data: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].archiveName < out[j].archiveName })
	return out, nil
}

// mmapFile maps f's contents read-only rather than reading it whole
// into a heap buffer, since initrd payloads (kernel images, large
// binaries) are exactly the case mmap exists for on a host build tool.
func mmapFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return nil, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return data, nil
}

func alignUp4(n int) int { return (n + 3) &^ 3 }

func writeEntry(w *bufio.Writer, ino uint32, name string, mode uint32, data []byte) error {
	namez := name + "\x00"
	header := fmt.Sprintf("070701%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x",
		ino, mode, 0, 0, 1, 0, len(data), 0, 0, 0, 0, len(namez), 0)
	if _, err := w.WriteString(header); err != nil {
		return err
	}
	if _, err := w.WriteString(namez); err != nil {
		return err
	}
	if err := padTo4(w, 6+13*8+len(namez)); err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return padTo4(w, len(data))
}

// padTo4 writes zero bytes to bring n up to the next multiple of 4; it
// takes the length already written rather than tracking a running
// total itself, mirroring the stateless alignUp4 used elsewhere in the
// archive reader.
func padTo4(w *bufio.Writer, n int) error {
	pad := alignUp4(n) - n
	_, err := w.Write(make([]byte, pad))
	return err
}
