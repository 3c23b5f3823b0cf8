// Package catalog defines the Size Catalog: the ordered set of labelled target
// widths every uploaded image is resized to.
//
// Order matters. The Nth resized variant and the Nth destination key both
// come from the Nth entry, so the catalog is a slice, never a map.
package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Entry is a single catalog size: a short label used in destination keys and
// the target width in pixels. Height follows from the source aspect ratio.
type Entry struct {
	Label     string
	Dimension int
}

// Catalog is an immutable ordered list of entries. The zero value is empty.
type Catalog struct {
	entries []Entry
}

// Default returns the stock catalog: sm=200, md=400, lg=600, xlg=800.
func Default() Catalog {
	c, _ := New([]Entry{
		{Label: "sm", Dimension: 200},
		{Label: "md", Dimension: 400},
		{Label: "lg", Dimension: 600},
		{Label: "xlg", Dimension: 800},
	})
	return c
}

// New validates and copies entries into a Catalog.
func New(entries []Entry) (Catalog, error) {
	if len(entries) == 0 {
		return Catalog{}, fmt.Errorf("catalog must contain at least one size")
	}
	seen := make(map[string]bool, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		label := strings.TrimSpace(e.Label)
		if label == "" {
			return Catalog{}, fmt.Errorf("empty size label")
		}
		if strings.ContainsAny(label, "/ ") {
			return Catalog{}, fmt.Errorf("size label %q must not contain '/' or spaces", label)
		}
		if e.Dimension <= 0 {
			return Catalog{}, fmt.Errorf("size %q must have a positive dimension (got %d)", label, e.Dimension)
		}
		if seen[label] {
			return Catalog{}, fmt.Errorf("duplicate size label %q", label)
		}
		seen[label] = true
		out = append(out, Entry{Label: label, Dimension: e.Dimension})
	}
	return Catalog{entries: out}, nil
}

// Parse reads a catalog from the "label:width,label:width" form used by the
// RESIZER_SIZES environment variable, e.g. "sm:200,md:400".
func Parse(s string) (Catalog, error) {
	var entries []Entry
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ":")
		if len(parts) != 2 {
			return Catalog{}, fmt.Errorf("invalid size %q, expected 'label:width'", pair)
		}
		width, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return Catalog{}, fmt.Errorf("invalid width in %q: %w", pair, err)
		}
		entries = append(entries, Entry{Label: parts[0], Dimension: width})
	}
	return New(entries)
}

// Len returns the number of entries.
func (c Catalog) Len() int { return len(c.entries) }

// At returns the i-th entry in catalog order.
func (c Catalog) At(i int) Entry { return c.entries[i] }

// Entries returns a copy of the entries in catalog order.
func (c Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Labels returns the labels in catalog order.
func (c Catalog) Labels() []string {
	labels := make([]string, len(c.entries))
	for i, e := range c.entries {
		labels[i] = e.Label
	}
	return labels
}

// Contains reports whether label names an entry.
func (c Catalog) Contains(label string) bool {
	for _, e := range c.entries {
		if e.Label == label {
			return true
		}
	}
	return false
}

// String renders the catalog back into its Parse form.
func (c Catalog) String() string {
	parts := make([]string, len(c.entries))
	for i, e := range c.entries {
		parts[i] = e.Label + ":" + strconv.Itoa(e.Dimension)
	}
	return strings.Join(parts, ",")
}
