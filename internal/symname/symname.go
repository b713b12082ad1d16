// Package symname turns arbitrary bytecode names into short identifiers that
// every LLVM and PTX tool accepts.
package symname

import (
	"fmt"
	"io"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// DefaultPrefix starts every legalised name.
const DefaultPrefix = "nn_"

// Entry is one row of the name table.
type Entry struct {
	Source string
	Legal  string
}

// Table assigns "<prefix><n>" names. The same source name always maps to the
// same legal name within one Table.
type Table struct {
	prefix string
	byName map[string]string
	order  []Entry
}

// New creates a Table using DefaultPrefix.
func New() *Table { return NewWithPrefix(DefaultPrefix) }

// NewWithPrefix creates a Table with a custom prefix.
func NewWithPrefix(prefix string) *Table {
	return &Table{prefix: prefix, byName: make(map[string]string, 64)}
}

// Legalize returns the legal name for name, allocating one on first use.
// Names are compared after NFC normalisation.
func (t *Table) Legalize(name string) string {
	key := norm.NFC.String(name)
	if legal, ok := t.byName[key]; ok {
		return legal
	}
	legal := t.prefix + strconv.Itoa(len(t.order))
	t.byName[key] = legal
	t.order = append(t.order, Entry{Source: key, Legal: legal})
	return legal
}

// Lookup returns the legal name for name without allocating.
func (t *Table) Lookup(name string) (string, bool) {
	legal, ok := t.byName[norm.NFC.String(name)]
	return legal, ok
}

// Len is the number of names allocated.
func (t *Table) Len() int { return len(t.order) }

// Entries returns the table in allocation order.
func (t *Table) Entries() []Entry { return append([]Entry(nil), t.order...) }

// Dump writes "legal <- source" lines in allocation order.
func (t *Table) Dump(w io.Writer) error {
	for _, e := range t.order {
		if _, err := fmt.Fprintf(w, "%-8s <- %s\n", e.Legal, e.Source); err != nil {
			return err
		}
	}
	return nil
}
