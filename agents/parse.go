package agents

import "golang.org/x/text/language"

// DefaultLocale is the collation used when Options.Locale is unset.
var DefaultLocale = language.English

// Options tunes ParseWith.
type Options struct {
	// Locale selects the collation for sorting by name.
	Locale language.Tag

	// OnReject, when set, receives website candidates that failed the URL
	// shape check together with the agent name they belonged to.
	OnReject func(agent, candidate string)
}

// Result is the outcome of a parse along with counts for diagnostics.
type Result struct {
	Records   []Record
	Blocks    int // wrappers matched by BlockSelector
	Extracted int // blocks that carried a name
}

// Parse runs the full pipeline with default options.
func Parse(markup string) []Record {
	return ParseWith(markup, Options{}).Records
}

// ParseWith runs the full pipeline. Records is never nil; it is empty when the
// page held no usable blocks, and substituting fallback data is up to the caller.
func ParseWith(markup string, opts Options) Result {
	tag := opts.Locale
	if tag == language.Und {
		tag = DefaultLocale
	}

	blocks := Blocks(markup)
	records := make([]Record, 0, len(blocks))
	for _, b := range blocks {
		raw, ok := Extract(b)
		if !ok {
			continue
		}

		var reject func(string)
		if opts.OnReject != nil {
			name := raw.Name
			reject = func(candidate string) { opts.OnReject(name, candidate) }
		}
		records = append(records, normalize(raw, reject))
	}

	out := Dedupe(records)
	SortByName(out, tag)

	return Result{
		Records:   out,
		Blocks:    len(blocks),
		Extracted: len(records),
	}
}
