package agents

import (
	"fmt"
	"strings"
)

// agentBlock renders one agent cell the way the upstream DataList does.
type agentBlock struct {
	index   int
	name    string
	contact string
	address string
	state   string
	country string
	phone   string
	email   string
	webHref string
	webText string
}

func (a agentBlock) html() string {
	p := fmt.Sprintf("ctl00_Main_DataList2_ctl%02d_", a.index)
	var b strings.Builder
	b.WriteString(`<td><div class="agent-listwrap">`)
	if a.name != "" {
		fmt.Fprintf(&b, `<span id="%slblAgentName"><b>%s</b></span><br/>`, p, a.name)
	}
	fmt.Fprintf(&b, `Contact: <span id="%slblContactPerson">%s</span><br/>`, p, a.contact)
	fmt.Fprintf(&b, `<span id="%slblAddress">%s</span><br/>`, p, a.address)
	fmt.Fprintf(&b, `<span id="%slblState">%s</span><br/>`, p, a.state)
	fmt.Fprintf(&b, `<span id="%slblCountry">%s</span><br/>`, p, a.country)
	fmt.Fprintf(&b, `Ph: <span id="%slblPhone">%s</span><br/>`, p, a.phone)
	if a.email != "" {
		fmt.Fprintf(&b, `<a id="%slblEmail" href="mailto:%s">%s</a><br/>`, p, strings.TrimSpace(a.email), a.email)
	}
	if a.webHref != "" || a.webText != "" {
		fmt.Fprintf(&b, `<a id="%slblWeb" href="%s" target="_blank">%s</a>`, p, a.webHref, a.webText)
	}
	b.WriteString(`</div></td>`)
	return b.String()
}

// page wraps blocks in the agent list table, two per row.
func page(blocks ...agentBlock) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><title>Agent List By Country</title></head><body>
<form method="post" action="./AgentListByCountry.aspx" id="form1">
<div class="header"><span id="ctl00_lblTitle">Agents</span></div>
<table id="ctl00_Main_DataList2" class="agent-list" cellspacing="0" style="width:100%;">`)
	for i, blk := range blocks {
		if i%2 == 0 {
			b.WriteString("<tr>")
		}
		b.WriteString(blk.html())
		if i%2 == 1 || i == len(blocks)-1 {
			b.WriteString("</tr>")
		}
	}
	b.WriteString(`</table></form></body></html>`)
	return b.String()
}
