package agents

import (
	"regexp"
	"strings"
)

var (
	httpScheme = regexp.MustCompile(`(?i)^https?://`)

	// websiteShape accepts scheme://host[:port][/path?query#frag] with a
	// dotted host of letters, digits and hyphens and no whitespace anywhere.
	websiteShape = regexp.MustCompile(`(?i)^https?://[\p{L}\p{N}-]+(\.[\p{L}\p{N}-]+)*(:\d{1,5})?([/?#]\S*)?$`)
)

// Normalize turns raw block fields into a Record.
func Normalize(raw RawFields) Record {
	return normalize(raw, nil)
}

func normalize(raw RawFields, reject func(candidate string)) Record {
	rec := Record{
		Name:     strings.TrimSpace(raw.Name),
		Contact:  strings.TrimSpace(raw.Contact),
		Country:  strings.TrimSpace(raw.Country),
		Address:  JoinAddress(raw.Address, raw.Region),
		Emails:   []string{},
		Phones:   []string{},
		Websites: NormalizeWebsites(raw.WebsiteHref, raw.WebsiteText, reject),
	}
	if email := NormalizeEmail(raw.Email); email != "" {
		rec.Emails = append(rec.Emails, email)
	}
	if phone := NormalizePhone(raw.Phone); phone != "" {
		rec.Phones = append(rec.Phones, phone)
	}
	return rec
}

// NormalizePhone trims s and collapses internal whitespace runs to one space.
// Unicode spaces count, so &nbsp; runs collapse too.
func NormalizePhone(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeEmail trims and lower-cases s.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// JoinAddress joins the non-empty lines with ", ".
func JoinAddress(lines ...string) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, ", ")
}

// CanonicalWebsite prefixes https:// when s has no http(s) scheme and reports
// whether the result looks like a web URL.
func CanonicalWebsite(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if !httpScheme.MatchString(s) {
		s = "https://" + s
	}
	return s, websiteShape.MatchString(s)
}

// NormalizeWebsites canonicalizes the link target and the link label of a
// website field. The label is skipped when it repeats the target verbatim.
// Candidates failing the shape check go to reject when it is non-nil.
func NormalizeWebsites(href, text string, reject func(candidate string)) []string {
	var set OrderedSet
	add := func(candidate string) {
		if strings.TrimSpace(candidate) == "" {
			return
		}
		u, ok := CanonicalWebsite(candidate)
		if !ok {
			if reject != nil {
				reject(candidate)
			}
			return
		}
		set.Add(u)
	}

	add(href)
	if text != href {
		add(text)
	}
	return set.Values()
}
