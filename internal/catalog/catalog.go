// Package catalog holds the column-oriented source lists produced by the
// point-source and segmentation detection pipelines, plus the matched-line
// and masking utilities used when comparing two catalogs.
package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrUnknownColumn is returned when a named column is absent.
	ErrUnknownColumn = errors.New("unknown catalog column")

	// ErrRaggedIndices is returned when the two matched-index slices have
	// different lengths. This is a contract violation with the matcher,
	// never silently truncated.
	ErrRaggedIndices = errors.New("matched index slices have different lengths")

	// ErrMaskLength is returned when a boolean mask does not cover the
	// matched pairs it is applied to.
	ErrMaskLength = errors.New("mask length does not match matched pairs")
)

// Catalog is an ordered column table. Missing values are NaN.
type Catalog struct {
	Names   []string
	Columns map[string][]float64
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{Columns: map[string][]float64{}}
}

// AddColumn appends a named column. The first column fixes the length.
func (c *Catalog) AddColumn(name string, values []float64) error {
	if _, dup := c.Columns[name]; dup {
		return fmt.Errorf("duplicate column %q", name)
	}
	if len(c.Names) > 0 && len(values) != c.Len() {
		return fmt.Errorf("column %q has %d rows, catalog has %d", name, len(values), c.Len())
	}
	c.Names = append(c.Names, name)
	c.Columns[name] = values
	return nil
}

// Len returns the number of rows.
func (c *Catalog) Len() int {
	if len(c.Names) == 0 {
		return 0
	}
	return len(c.Columns[c.Names[0]])
}

// Column returns the named column.
func (c *Catalog) Column(name string) ([]float64, error) {
	col, ok := c.Columns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	return col, nil
}

// HasColumn reports whether the named column exists.
func (c *Catalog) HasColumn(name string) bool {
	_, ok := c.Columns[name]
	return ok
}

// RenameColumn renames a column in place. Used to reconcile the different
// centroid column names of the two detection pipelines.
func (c *Catalog) RenameColumn(from, to string) error {
	col, ok := c.Columns[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, from)
	}
	delete(c.Columns, from)
	c.Columns[to] = col
	for i, n := range c.Names {
		if n == from {
			c.Names[i] = to
		}
	}
	return nil
}

// CommonColumns returns the sorted intersection of column names present in
// both catalogs. Reported for traceability before a comparison run.
func CommonColumns(a, b *Catalog) []string {
	var common []string
	for _, name := range a.Names {
		if b.HasColumn(name) {
			common = append(common, name)
		}
	}
	sort.Strings(common)
	return common
}

// ReadECSV reads a detection-pipeline catalog: '#'-prefixed comment header
// followed by a comma-separated column-name line and data rows. Cells that
// do not parse as numbers become NaN (missing).
func ReadECSV(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()

	cat := New()
	var cols [][]float64

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		if len(cat.Names) == 0 {
			for _, name := range fields {
				cat.Names = append(cat.Names, strings.TrimSpace(name))
			}
			cols = make([][]float64, len(cat.Names))
			continue
		}
		if len(fields) != len(cat.Names) {
			return nil, fmt.Errorf("catalog %s: row has %d fields, header has %d", path, len(fields), len(cat.Names))
		}
		for i, cell := range fields {
			v, perr := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if perr != nil {
				v = math.NaN()
			}
			cols[i] = append(cols[i], v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	if len(cat.Names) == 0 {
		return nil, fmt.Errorf("catalog %s: no column header found", path)
	}
	for i, name := range cat.Names {
		cat.Columns[name] = cols[i]
	}
	return cat, nil
}

// NumSourcesInHeader scans the comment header of a catalog file for the
// "Number of sources" annotation the detection pipelines write. Returns
// -1 when the annotation is absent; scanning stops at the first
// non-comment line since all comments are grouped at the top.
func NumSourcesInHeader(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return -1, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "#") {
			break
		}
		if idx := strings.Index(line, "Number of sources"); idx >= 0 {
			fields := strings.Fields(line)
			last := strings.TrimRight(fields[len(fields)-1], ".")
			n, perr := strconv.Atoi(last)
			if perr != nil {
				return -1, fmt.Errorf("catalog %s: malformed source count %q", path, last)
			}
			return n, nil
		}
	}
	return -1, scanner.Err()
}
