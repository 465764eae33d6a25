package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"agentlist/agents"

	"go.uber.org/zap"
)

// Check names reported by /api/debug-network.
const (
	CheckDNS  = "DNS Resolution"
	CheckHead = "HTTP Connectivity (HEAD)"
	CheckGet  = "Full GET Request"

	checkAlternativePrefix = "Alternative URL: "
)

const (
	checkSuccess = "success"
	checkFailed  = "failed"
)

// agentListID is the id the upstream generator gives the agent table.
const agentListID = "ctl00_Main_DataList2"

// headersOfInterest are copied into HEAD and GET checks when present.
var headersOfInterest = []string{
	"Content-Type", "Content-Length", "Server", "X-Powered-By", "Cache-Control", "Cf-Ray",
}

// NetworkDebug is the body of /api/debug-network.
type NetworkDebug struct {
	Timestamp string         `json:"timestamp"`
	TargetURL string         `json:"targetUrl"`
	RequestID string         `json:"requestId"`
	Tests     []NetworkCheck `json:"tests"`
	Summary   NetworkSummary `json:"summary"`
}

// NetworkCheck is one connectivity test against the upstream.
type NetworkCheck struct {
	Name         string            `json:"name"`
	Status       string            `json:"status"`
	Message      string            `json:"message,omitempty"`
	Error        string            `json:"error,omitempty"`
	Addresses    []string          `json:"addresses,omitempty"`
	ResponseTime string            `json:"responseTime,omitempty"`
	StatusCode   int               `json:"statusCode,omitempty"`
	StatusText   string            `json:"statusText,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Content      *ContentAnalysis  `json:"contentAnalysis,omitempty"`
}

// ContentAnalysis describes a fetched page without parsing it.
type ContentAnalysis struct {
	ContentLength         int    `json:"contentLength"`
	IsHTML                bool   `json:"isHtml"`
	HasAgentList          bool   `json:"hasAgentList"`
	ContainsAgentListwrap bool   `json:"containsAgentListwrap"`
	HasAgentNameElements  bool   `json:"hasAgentNameElements"`
	FirstCharacters       string `json:"firstCharacters"`
}

// NetworkSummary totals the checks.
type NetworkSummary struct {
	TotalTests      int    `json:"totalTests"`
	SuccessfulTests int    `json:"successfulTests"`
	FailedTests     int    `json:"failedTests"`
	OverallStatus   string `json:"overallStatus"`
	Recommendation  string `json:"recommendation"`
}

func (s *Server) handleDebugNetwork(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := s.cfg.Upstream.URL

	report := NetworkDebug{
		Timestamp: s.timestamp(),
		TargetURL: target,
		RequestID: RequestID(ctx),
	}

	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		report.Tests = append(report.Tests, NetworkCheck{
			Name:   CheckDNS,
			Status: checkFailed,
			Error:  fmt.Sprintf("invalid upstream URL %q", target),
		})
	} else {
		report.Tests = append(report.Tests, s.checkDNS(ctx, u.Hostname()))
		report.Tests = append(report.Tests, s.checkHTTP(ctx, CheckHead, http.MethodHead, target, 10*time.Second))
		report.Tests = append(report.Tests, s.checkHTTP(ctx, CheckGet, http.MethodGet, target, 30*time.Second))
		for _, alt := range alternativeURLs(u) {
			report.Tests = append(report.Tests, s.checkHTTP(ctx, checkAlternativePrefix+alt, http.MethodHead, alt, 10*time.Second))
		}
	}
	report.Summary = summarize(report.Tests)

	s.logger.Info("network debug",
		zap.String("request_id", report.RequestID),
		zap.String("target", target),
		zap.Int("passed", report.Summary.SuccessfulTests),
		zap.Int("total", report.Summary.TotalTests))

	w.Header().Set("Cache-Control", CacheDevelopment)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) checkDNS(ctx context.Context, host string) NetworkCheck {
	check := NetworkCheck{Name: CheckDNS}
	addrs, err := s.resolver.LookupHost(ctx, host)
	if err != nil {
		check.Status = checkFailed
		check.Error = err.Error()
		return check
	}
	check.Status = checkSuccess
	check.Addresses = addrs
	check.Message = fmt.Sprintf("Resolved %s to %s", host, strings.Join(addrs, ", "))
	return check
}

func (s *Server) checkHTTP(ctx context.Context, name, method, target string, timeout time.Duration) NetworkCheck {
	check := NetworkCheck{Name: name}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.fetcher.Probe(ctx, method, target)
	if err != nil {
		check.Status = checkFailed
		check.Error = err.Error()
		return check
	}

	check.Status = checkFailed
	if res.StatusCode >= 200 && res.StatusCode <= 299 {
		check.Status = checkSuccess
	}
	check.ResponseTime = fmt.Sprintf("%dms", res.Elapsed.Milliseconds())
	check.StatusCode = res.StatusCode
	check.StatusText = res.Status
	for _, h := range headersOfInterest {
		if v := res.Header.Get(h); v != "" {
			if check.Headers == nil {
				check.Headers = make(map[string]string)
			}
			check.Headers[strings.ToLower(h)] = v
		}
	}
	if method == http.MethodGet && check.Status == checkSuccess {
		check.Content = analyzeContent(res.Body)
	}
	return check
}

func analyzeContent(body string) *ContentAnalysis {
	return &ContentAnalysis{
		ContentLength:         len(body),
		IsHTML:                strings.Contains(body, "<html") || strings.Contains(body, "<!DOCTYPE"),
		HasAgentList:          strings.Contains(body, agentListID),
		ContainsAgentListwrap: strings.Contains(body, "agent-listwrap"),
		HasAgentNameElements:  strings.Contains(body, agents.FieldFragments[agents.KeyName]),
		FirstCharacters:       firstRunes(body, 200),
	}
}

func firstRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// alternativeURLs returns u with the other scheme and, for named hosts, the
// www-prefixed host.
func alternativeURLs(u *url.URL) []string {
	var alts []string

	swapped := *u
	switch u.Scheme {
	case "https":
		swapped.Scheme = "http"
		alts = append(alts, swapped.String())
	case "http":
		swapped.Scheme = "https"
		alts = append(alts, swapped.String())
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil && !strings.HasPrefix(host, "www.") {
		www := *u
		www.Host = "www." + u.Host
		alts = append(alts, www.String())
	}
	return alts
}

func summarize(checks []NetworkCheck) NetworkSummary {
	sum := NetworkSummary{TotalTests: len(checks)}
	for _, c := range checks {
		if c.Status == checkSuccess {
			sum.SuccessfulTests++
		}
	}
	sum.FailedTests = sum.TotalTests - sum.SuccessfulTests

	switch {
	case sum.SuccessfulTests == 0:
		sum.OverallStatus = checkFailed
	case sum.FailedTests == 0:
		sum.OverallStatus = "ok"
	default:
		sum.OverallStatus = "partial"
	}
	sum.Recommendation = recommend(checks)
	return sum
}

func recommend(checks []NetworkCheck) string {
	find := func(name string) *NetworkCheck {
		for i := range checks {
			if checks[i].Name == name {
				return &checks[i]
			}
		}
		return nil
	}
	dns, head, get := find(CheckDNS), find(CheckHead), find(CheckGet)

	switch {
	case dns != nil && dns.Status == checkFailed:
		return "DNS resolution failed. The upstream host may be unreachable from this network."
	case head != nil && head.Status == checkFailed:
		return "HTTP connectivity failed. The upstream may be down or blocking this address."
	case get != nil && get.Status == checkFailed:
		return "GET request failed. The upstream may restrict full content requests."
	case get != nil && get.Content != nil && !get.Content.HasAgentList:
		return "Content retrieved but the agent list is missing. The page structure may have changed."
	case get != nil && get.Content != nil:
		return "Upstream reachable and the agent list is present. Check parsing diagnostics on /api/agent-list."
	}
	return "Mixed results. Review the individual checks."
}
