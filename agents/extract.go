package agents

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FieldKey names a logical field of an agent block.
type FieldKey string

const (
	KeyName    FieldKey = "name"
	KeyContact FieldKey = "contact"
	KeyAddress FieldKey = "address"
	KeyRegion  FieldKey = "region"
	KeyCountry FieldKey = "country"
	KeyPhone   FieldKey = "phone"
	KeyEmail   FieldKey = "email"
	KeyWebsite FieldKey = "website"
)

// FieldFragments maps each field to the id fragment the upstream generator
// embeds in the element carrying it. Full ids look like
// "ctl00_Main_DataList2_ctl03_lblAgentName"; only the suffix is stable.
var FieldFragments = map[FieldKey]string{
	KeyName:    "lblAgentName",
	KeyContact: "lblContactPerson",
	KeyAddress: "lblAddress",
	KeyRegion:  "lblState",
	KeyCountry: "lblCountry",
	KeyPhone:   "lblPhone",
	KeyEmail:   "lblEmail",
	KeyWebsite: "lblWeb",
}

// Field is the result of a fragment lookup.
type Field struct {
	Text  string // trimmed text content
	Href  string // href attribute, untrimmed, empty when absent
	Found bool
}

// FindFieldIn returns the first element in b whose id contains fragment.
func FindFieldIn(b RawBlock, fragment string) Field {
	return findIn(b, "[id]", fragment)
}

// FindLinkIn is FindFieldIn restricted to <a> elements.
func FindLinkIn(b RawBlock, fragment string) Field {
	return findIn(b, "a[id]", fragment)
}

func findIn(b RawBlock, selector, fragment string) Field {
	if b.sel == nil || fragment == "" {
		return Field{}
	}

	match := b.sel.Find(selector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")
		return strings.Contains(id, fragment)
	}).First()
	if match.Length() == 0 {
		return Field{}
	}

	href, _ := match.Attr("href")
	return Field{
		Text:  strings.TrimSpace(match.Text()),
		Href:  href,
		Found: true,
	}
}

// Extract pulls the raw field values out of a block. It reports false when
// the block has no agent name, which is how decorative wrappers show up.
func Extract(b RawBlock) (RawFields, bool) {
	name := FindFieldIn(b, FieldFragments[KeyName]).Text
	if name == "" {
		return RawFields{}, false
	}

	web := FindLinkIn(b, FieldFragments[KeyWebsite])
	return RawFields{
		Name:        name,
		Contact:     FindFieldIn(b, FieldFragments[KeyContact]).Text,
		Address:     FindFieldIn(b, FieldFragments[KeyAddress]).Text,
		Region:      FindFieldIn(b, FieldFragments[KeyRegion]).Text,
		Country:     FindFieldIn(b, FieldFragments[KeyCountry]).Text,
		Phone:       FindFieldIn(b, FieldFragments[KeyPhone]).Text,
		Email:       FindLinkIn(b, FieldFragments[KeyEmail]).Text,
		WebsiteHref: web.Href,
		WebsiteText: web.Text,
	}, true
}
