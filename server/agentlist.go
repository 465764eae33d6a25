package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"agentlist/agents"
	"agentlist/fetcher"

	"go.uber.org/zap"
)

// SourceLocal marks responses built from the local example page.
const SourceLocal = "local"

// listwrapDiv counts block containers in the raw text, independent of the
// parser, so the two can be compared when a parse comes back empty.
var listwrapDiv = regexp.MustCompile(`<div[^>]*class="agent-listwrap"`)

// AgentList is the success envelope.
type AgentList struct {
	Source      string          `json:"source"`
	UpdatedAt   string          `json:"updatedAt"`
	Total       int             `json:"total"`
	Items       []agents.Record `json:"items"`
	Diagnostics Diagnostics     `json:"diagnostics"`
}

// Diagnostics describes how a response was built.
type Diagnostics struct {
	RequestID             string `json:"requestId"`
	ParseMethod           string `json:"parseMethod"`
	BlockCount            int    `json:"blockCount"`
	ExtractedCount        int    `json:"extractedCount"`
	DedupedCount          int    `json:"dedupedCount"`
	UsingFallback         bool   `json:"usingFallback"`
	FallbackSource        string `json:"fallbackSource,omitempty"`
	HTMLLength            int    `json:"htmlLength"`
	ContainsAgentListwrap bool   `json:"containsAgentListwrap"`
	SimplePatternMatches  int    `json:"simplePatternMatches"`
	UsedBrowser           bool   `json:"usedBrowser,omitempty"`
	FetchMillis           int64  `json:"fetchMillis,omitempty"`
}

// AgentListError is the envelope written when fetching or parsing failed.
// It still carries usable items.
type AgentListError struct {
	Source    string          `json:"source"`
	UpdatedAt string          `json:"updatedAt"`
	Error     ErrorDetail     `json:"error"`
	Total     int             `json:"total"`
	Items     []agents.Record `json:"items"`
}

// ErrorDetail describes a failure.
type ErrorDetail struct {
	Name        string `json:"name"`
	Message     string `json:"message"`
	Code        int    `json:"code,omitempty"`
	Details     string `json:"details"`
	Timestamp   string `json:"timestamp"`
	ParseMethod string `json:"parseMethod"`
	RequestID   string `json:"requestId,omitempty"`
}

// markup is the page text along with where it came from.
type markup struct {
	html   string
	source string
	fetch  *fetcher.FetchResult
}

func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := s.logger.With(zap.String("request_id", RequestID(ctx)))

	page, err := s.loadMarkup(ctx, r.URL.Query().Get("refresh") == "true")
	if err != nil {
		s.writeAgentError(w, r, err)
		return
	}

	res := agents.ParseWith(page.html, agents.Options{
		Locale: s.locale,
		OnReject: func(agent, candidate string) {
			log.Debug("website rejected", zap.String("agent", agent), zap.String("candidate", candidate))
		},
	})

	diag := Diagnostics{
		RequestID:             RequestID(ctx),
		ParseMethod:           ParseMethod,
		BlockCount:            res.Blocks,
		ExtractedCount:        res.Extracted,
		DedupedCount:          len(res.Records),
		HTMLLength:            len(page.html),
		ContainsAgentListwrap: strings.Contains(page.html, "agent-listwrap"),
		SimplePatternMatches:  len(listwrapDiv.FindAllStringIndex(page.html, -1)),
	}
	if page.fetch != nil {
		diag.UsedBrowser = page.fetch.UsedBrowser
		diag.FetchMillis = page.fetch.FetchTime.Milliseconds()
	}

	items := res.Records
	if len(items) == 0 {
		items, diag.FallbackSource = s.fallback(ctx)
		diag.UsingFallback = true
		log.Warn("no agents parsed, serving fallback",
			zap.String("source", page.source),
			zap.Int("html_length", len(page.html)),
			zap.String("fallback", diag.FallbackSource))
	} else if s.snapshots != nil && page.source != SourceLocal {
		if err := s.snapshots.Save(ctx, page.source, items); err != nil {
			log.Warn("saving snapshot failed", zap.Error(err))
		}
	}

	log.Info("agent list built",
		zap.String("source", page.source),
		zap.Int("blocks", res.Blocks),
		zap.Int("extracted", res.Extracted),
		zap.Int("deduped", len(res.Records)),
		zap.Int("total", len(items)))

	w.Header().Set("Cache-Control", s.cacheControl())
	writeJSON(w, http.StatusOK, AgentList{
		Source:      page.source,
		UpdatedAt:   s.timestamp(),
		Total:       len(items),
		Items:       items,
		Diagnostics: diag,
	})
}

// loadMarkup reads the local example page when configured, otherwise fetches
// the upstream page. A failed local read falls through to the upstream.
func (s *Server) loadMarkup(ctx context.Context, refresh bool) (markup, error) {
	up := s.cfg.Upstream
	if up.LocalExampleHTML {
		data, err := s.readFile(up.LocalExamplePath)
		if err == nil {
			return markup{html: string(data), source: SourceLocal}, nil
		}
		s.logger.Warn("reading local example failed, falling back to upstream",
			zap.String("path", up.LocalExamplePath), zap.Error(err))
	}

	target := up.URL
	if refresh {
		target = fetcher.CacheBust(target, s.now())
	}

	ctx, cancel := context.WithTimeout(ctx, s.fetcher.Timeout()+20*time.Second)
	defer cancel()

	result, err := s.fetcher.Smart(ctx, target)
	if err != nil {
		return markup{}, fmt.Errorf("fetching upstream: %w", err)
	}
	s.logger.Debug("upstream fetched",
		zap.String("url", target),
		zap.Int("length", len(result.HTML)),
		zap.Bool("browser", result.UsedBrowser),
		zap.Duration("took", result.FetchTime))

	return markup{html: result.HTML, source: up.URL, fetch: result}, nil
}

// fallback returns the newest stored snapshot, or the static defaults.
func (s *Server) fallback(ctx context.Context) ([]agents.Record, string) {
	if s.snapshots != nil {
		snap, ok, err := s.snapshots.Latest(ctx)
		if err != nil {
			s.logger.Warn("loading snapshot failed", zap.Error(err))
		}
		if ok && len(snap.Items) > 0 {
			return snap.Items, "snapshot"
		}
	}
	return agents.Defaults(), "defaults"
}

func (s *Server) writeAgentError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	s.logger.Error("agent list failed",
		zap.String("request_id", RequestID(ctx)),
		zap.String("upstream", s.cfg.Upstream.URL),
		zap.Bool("local_mode", s.cfg.Upstream.LocalExampleHTML),
		zap.Error(err))

	// the request context may be the reason we failed
	items, _ := s.fallback(context.WithoutCancel(ctx))
	name, code := classify(err)
	ts := s.timestamp()

	w.Header().Set("Cache-Control", CacheDevelopment)
	writeJSON(w, http.StatusInternalServerError, AgentListError{
		Source:    "error",
		UpdatedAt: ts,
		Error: ErrorDetail{
			Name:        name,
			Message:     err.Error(),
			Code:        code,
			Details:     "agent list failed: " + err.Error(),
			Timestamp:   ts,
			ParseMethod: ParseMethod,
			RequestID:   RequestID(ctx),
		},
		Total: len(items),
		Items: items,
	})
}

// classify names an error for clients.
func classify(err error) (string, int) {
	var statusErr *fetcher.StatusError
	var panicErr *PanicError
	switch {
	case errors.As(err, &statusErr):
		return "HTTPError", statusErr.Code
	case errors.As(err, &panicErr):
		return "PanicError", 0
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError", 0
	case errors.Is(err, context.Canceled):
		return "AbortError", 0
	}
	return "FetchError", 0
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}
