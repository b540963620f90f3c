package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"leafprep/internal/config"
	"leafprep/internal/logging"
)

// CleanName lowercases name, strips accents, replaces every character other
// than [a-z0-9_] with an underscore and collapses runs of underscores.
// "Reclamation Date" becomes "reclamation_date", "WELLSITE_#" "wellsite_".
func CleanName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(stripped)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return b.String()
}

// CleanNames renames every column with CleanName. Colliding names get a
// numeric suffix.
func CleanNames(t *Table) {
	rename := make(map[string]string, len(t.Columns))
	used := make(map[string]bool, len(t.Columns))
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		clean := CleanName(c)
		if used[clean] {
			for n := 2; ; n++ {
				candidate := clean + "_" + strconv.Itoa(n)
				if !used[candidate] {
					clean = candidate
					break
				}
			}
		}
		used[clean] = true
		rename[c] = clean
		cols[i] = clean
	}
	t.Columns = cols
	renameProperties(t, rename)
}

func renameProperties(t *Table, rename map[string]string) {
	for i := range t.Features {
		props := make(map[string]interface{}, len(t.Features[i].Properties))
		for k, v := range t.Features[i].Properties {
			if to, ok := rename[k]; ok {
				k = to
			}
			props[k] = v
		}
		t.Features[i].Properties = props
	}
}

// Prepare cleans column names and applies the source's drop, match, preset
// filter, column selection, rename and limit, in that order.
func Prepare(t *Table, src config.SourceConfig) error {
	before := t.Len()
	CleanNames(t)
	if len(src.Drop) > 0 {
		Drop(t, src.Drop...)
	}
	if len(src.Match) > 0 {
		Match(t, src.Match)
	}
	switch src.Filter {
	case "":
	case config.FilterReclaimedWells:
		ReclaimedWells(t)
	default:
		return fmt.Errorf("source %s: unknown filter %q", src.Name, src.Filter)
	}
	if len(src.Columns) > 0 {
		if err := Select(t, src.Columns...); err != nil {
			return fmt.Errorf("source %s: %w", src.Name, err)
		}
	}
	if len(src.Rename) > 0 {
		Rename(t, src.Rename)
	}
	if src.Limit > 0 && t.Len() > src.Limit {
		t.Features = t.Features[:src.Limit]
	}
	logging.Ingest("Prepared %s: %d of %d feature(s) kept, columns %v", src.Name, t.Len(), before, t.Columns)
	return nil
}

// Drop removes columns. Unknown columns are ignored.
func Drop(t *Table, columns ...string) {
	drop := make(map[string]bool, len(columns))
	for _, c := range columns {
		drop[c] = true
	}
	kept := t.Columns[:0]
	for _, c := range t.Columns {
		if !drop[c] {
			kept = append(kept, c)
		}
	}
	t.Columns = kept
	for _, f := range t.Features {
		for c := range drop {
			delete(f.Properties, c)
		}
	}
}

// Select keeps only the named columns, in the given order.
func Select(t *Table, columns ...string) error {
	keep := make(map[string]bool, len(columns))
	for _, c := range columns {
		if !t.hasColumn(c) {
			return fmt.Errorf("column %q not found", c)
		}
		keep[c] = true
	}
	var drop []string
	for _, c := range t.Columns {
		if !keep[c] {
			drop = append(drop, c)
		}
	}
	Drop(t, drop...)
	t.Columns = append([]string(nil), columns...)
	return nil
}

// Rename renames columns; names not present are ignored.
func Rename(t *Table, mapping map[string]string) {
	for i, c := range t.Columns {
		if to, ok := mapping[c]; ok {
			t.Columns[i] = to
		}
	}
	renameProperties(t, mapping)
}
