package agents

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// keySep cannot occur in parsed text: the HTML tokenizer replaces NUL bytes.
const keySep = "\x00"

// Key is the case-insensitive (name, country) identity of a record.
func Key(r Record) string {
	return strings.ToLower(r.Name + keySep + r.Country)
}

// Dedupe drops every record whose Key was already seen, keeping the first.
func Dedupe(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		k := Key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// SortByName orders records by name with the collation rules of tag.
// Records with equal names keep their relative order.
func SortByName(records []Record, tag language.Tag) {
	c := collate.New(tag)
	sort.SliceStable(records, func(i, j int) bool {
		return c.CompareString(records[i].Name, records[j].Name) < 0
	})
}
