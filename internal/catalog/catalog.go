// Package catalog implements the Partition Catalog (C3): stateless,
// on-demand enumeration of a Hive-style partitioned table's on-disk
// directory layout.
package catalog

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/querymesh/router/internal/routererr"
)

// Entry is one partition directory. Identity is Path.
type Entry struct {
	Key       string
	Value     string
	Path      string
	SizeBytes uint64
	FileCount uint32
}

// Catalog is the ordered set of partitions for one table, all sharing Key.
type Catalog struct {
	Table   string
	Key     string
	Entries []Entry
}

// TotalSizeBytes sums entry sizes over the full catalog.
func (c *Catalog) TotalSizeBytes() uint64 {
	var total uint64
	for _, e := range c.Entries {
		total += e.SizeBytes
	}
	return total
}

// TotalFiles sums file counts over the full catalog.
func (c *Catalog) TotalFiles() uint32 {
	var total uint32
	for _, e := range c.Entries {
		total += e.FileCount
	}
	return total
}

// Scan enumerates dataRoot/table's immediate subdirectories, keeping
// those shaped exactly "partitionKey=value" (one '=', non-empty value),
// and sums the size of every *.ext file directly inside each. Tolerant
// of concurrent filesystem mutation: a partition directory that
// disappears mid-scan is omitted rather than failing the whole scan.
func Scan(dataRoot, table, partitionKey, ext string) (*Catalog, error) {
	root := filepath.Join(dataRoot, table)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, routererr.CatalogMissing(table, root)
	}

	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, routererr.CatalogMissing(table, root)
	}

	cat := &Catalog{Table: table, Key: partitionKey}
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		key, value, ok := splitPartitionDir(de.Name())
		if !ok || key != partitionKey {
			continue
		}
		path := filepath.Join(root, de.Name())
		size, count, err := scanPartitionFiles(path, ext)
		if err != nil {
			// Directory vanished between ReadDir and stat; omit it.
			continue
		}
		cat.Entries = append(cat.Entries, Entry{
			Key:       key,
			Value:     value,
			Path:      path,
			SizeBytes: size,
			FileCount: count,
		})
	}
	return cat, nil
}

// splitPartitionDir parses a directory name as "key=value" with exactly
// one '=' and a non-empty value.
func splitPartitionDir(name string) (key, value string, ok bool) {
	idx := strings.Index(name, "=")
	if idx <= 0 {
		return "", "", false
	}
	if strings.Index(name[idx+1:], "=") != -1 {
		return "", "", false
	}
	value = name[idx+1:]
	if value == "" {
		return "", "", false
	}
	return name[:idx], value, true
}

func scanPartitionFiles(path, ext string) (uint64, uint32, error) {
	files, err := os.ReadDir(path)
	if err != nil {
		return 0, 0, err
	}
	suffix := "." + ext
	var size uint64
	var count uint32
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), suffix) {
			continue
		}
		fi, err := f.Info()
		if err != nil {
			// File removed between ReadDir and Info; ignore it silently.
			continue
		}
		size += uint64(fi.Size())
		count++
	}
	return size, count, nil
}
