// Package agents turns the upstream agent directory page into a clean agent list.
//
// Parsing is a pure pipeline over the page markup: locate the repeated agent
// blocks, extract each block's raw fields, normalize them into a Record, then
// drop duplicate (name, country) pairs and sort by name. Nothing is fetched or
// cached here; callers hand in markup and get records back.
package agents

// Record is one agent as served to clients.
type Record struct {
	Name     string   `json:"name"`
	Contact  string   `json:"contact"`
	Country  string   `json:"country"`
	Address  string   `json:"address"`
	Emails   []string `json:"emails"`
	Phones   []string `json:"phones"`
	Websites []string `json:"websites"`
}

// RawFields holds the untouched field values pulled out of a single block.
type RawFields struct {
	Name        string
	Contact     string
	Address     string
	Region      string
	Country     string
	Phone       string
	Email       string
	WebsiteHref string
	WebsiteText string
}

// Defaults returns the static agent list served when nothing usable could be
// parsed. A fresh slice is returned on every call so callers may modify it.
func Defaults() []Record {
	return []Record{
		{
			Name:     "Origin Institute",
			Contact:  "Admissions Office",
			Country:  "Australia",
			Address:  "Level 4, 696 Bourke Street, Melbourne VIC 3000",
			Emails:   []string{"info@origininstitute.edu.au"},
			Phones:   []string{"+61 3 9642 0012"},
			Websites: []string{"https://origininstitute.edu.au"},
		},
	}
}
