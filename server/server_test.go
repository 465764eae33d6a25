package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"agentlist/agents"
	"agentlist/config"
	"agentlist/fetcher"
	"agentlist/snapshot"
	"agentlist/visa"
)

const upstreamPage = `<html><body><form id="form1">
<table id="ctl00_Main_DataList2" class="agent-list"><tr>
<td><div class="agent-listwrap">
	<span id="ctl00_Main_DataList2_ctl00_lblAgentName"><b>Zeta Education</b></span>
	<span id="ctl00_Main_DataList2_ctl00_lblCountry">Nepal</span>
	<a id="ctl00_Main_DataList2_ctl00_lblWeb" href="zeta.edu.np">zeta.edu.np</a>
</div></td>
<td><div class="agent-listwrap">
	<span id="ctl00_Main_DataList2_ctl01_lblAgentName"><b>Alpha Migration</b></span>
	<span id="ctl00_Main_DataList2_ctl01_lblCountry">India</span>
	<span id="ctl00_Main_DataList2_ctl01_lblPhone">+91  22 1234</span>
	<a id="ctl00_Main_DataList2_ctl01_lblEmail" href="mailto:hi@alpha.in">HI@Alpha.in</a>
</div></td>
</tr><tr>
<td><div class="agent-listwrap">
	<span id="ctl00_Main_DataList2_ctl02_lblAgentName"><b>Zeta Education</b></span>
	<span id="ctl00_Main_DataList2_ctl02_lblCountry">Nepal</span>
</div></td>
</tr></table></form></body></html>`

// upstream is a fake agent directory.
type upstream struct {
	server *httptest.Server
	status atomic.Int32
	body   atomic.Value
	query  atomic.Value
}

func newUpstream(t *testing.T, body string) *upstream {
	t.Helper()
	u := &upstream{}
	u.status.Store(http.StatusOK)
	u.body.Store(body)
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.query.Store(r.URL.RawQuery)
		w.WriteHeader(int(u.status.Load()))
		fmt.Fprint(w, u.body.Load().(string))
	}))
	t.Cleanup(u.server.Close)
	return u
}

func testConfig(upstreamURL string) *config.Config {
	cfg := config.Default()
	cfg.Upstream.URL = upstreamURL
	cfg.Upstream.TimeoutSeconds = 5
	return cfg
}

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestServer(cfg *config.Config, opts ...Option) *Server {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(cfg, nil, opts...)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestAgentList(t *testing.T) {
	up := newUpstream(t, upstreamPage)
	srv := newTestServer(testConfig(up.server.URL))

	rec := get(t, srv.Handler(), "/api/agent-list")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != CacheDevelopment {
		t.Errorf("expected development cache header, got %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("unexpected content type %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header")
	}

	body := decode[AgentList](t, rec)
	if body.Source != up.server.URL {
		t.Errorf("expected source %s, got %s", up.server.URL, body.Source)
	}
	if body.Total != 2 || len(body.Items) != 2 {
		t.Fatalf("expected 2 items, got total=%d items=%d", body.Total, len(body.Items))
	}
	if body.Items[0].Name != "Alpha Migration" || body.Items[1].Name != "Zeta Education" {
		t.Errorf("unexpected order %q, %q", body.Items[0].Name, body.Items[1].Name)
	}
	if body.Items[0].Emails[0] != "hi@alpha.in" || body.Items[0].Phones[0] != "+91 22 1234" {
		t.Errorf("fields not normalized: %+v", body.Items[0])
	}
	if body.UpdatedAt != "2026-03-01T09:30:00Z" {
		t.Errorf("unexpected updatedAt %q", body.UpdatedAt)
	}

	d := body.Diagnostics
	if d.BlockCount != 3 || d.ExtractedCount != 3 || d.DedupedCount != 2 || d.UsingFallback {
		t.Errorf("unexpected diagnostics %+v", d)
	}
	if d.SimplePatternMatches != 3 {
		t.Errorf("expected 3 simple pattern matches, got %d", d.SimplePatternMatches)
	}
	if !d.ContainsAgentListwrap || d.HTMLLength != len(upstreamPage) || d.ParseMethod != ParseMethod {
		t.Errorf("unexpected diagnostics %+v", d)
	}
	if d.RequestID == "" || d.RequestID != rec.Header().Get("X-Request-Id") {
		t.Errorf("request id mismatch: %q vs %q", d.RequestID, rec.Header().Get("X-Request-Id"))
	}
}

func TestAgentListEmptyItemsEncodeAsArrays(t *testing.T) {
	up := newUpstream(t, upstreamPage)
	srv := newTestServer(testConfig(up.server.URL))

	rec := get(t, srv.Handler(), "/api/agent-list")
	if strings.Contains(rec.Body.String(), "null") {
		t.Errorf("list fields should never be null: %s", rec.Body.String())
	}
}

func TestAgentListProductionCache(t *testing.T) {
	up := newUpstream(t, upstreamPage)
	cfg := testConfig(up.server.URL)
	cfg.Server.Mode = config.ModeProduction
	srv := newTestServer(cfg)

	rec := get(t, srv.Handler(), "/api/agent-list")
	if got := rec.Header().Get("Cache-Control"); got != CacheProduction {
		t.Errorf("expected production cache header, got %q", got)
	}
}

func TestAgentListRefreshBustsCache(t *testing.T) {
	up := newUpstream(t, upstreamPage)
	srv := newTestServer(testConfig(up.server.URL))

	get(t, srv.Handler(), "/api/agent-list")
	if q, _ := up.query.Load().(string); q != "" {
		t.Errorf("plain request should not add a query, got %q", q)
	}

	get(t, srv.Handler(), "/api/agent-list?refresh=true")
	want := fmt.Sprintf("_cb=%d", fixedNow.UnixMilli())
	if q, _ := up.query.Load().(string); q != want {
		t.Errorf("expected %q, got %q", want, q)
	}
}

func TestAgentListNoBlocksUsesDefaults(t *testing.T) {
	up := newUpstream(t, `<html><body><p>Maintenance</p></body></html>`)
	srv := newTestServer(testConfig(up.server.URL))

	rec := get(t, srv.Handler(), "/api/agent-list")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[AgentList](t, rec)
	if !body.Diagnostics.UsingFallback || body.Diagnostics.FallbackSource != "defaults" {
		t.Errorf("expected defaults fallback, got %+v", body.Diagnostics)
	}
	if body.Total != 1 || body.Items[0].Name != agents.Defaults()[0].Name {
		t.Errorf("expected default agents, got %+v", body.Items)
	}
}

func TestAgentListUpstreamError(t *testing.T) {
	up := newUpstream(t, "down")
	up.status.Store(http.StatusBadGateway)
	srv := newTestServer(testConfig(up.server.URL))

	rec := get(t, srv.Handler(), "/api/agent-list")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	body := decode[AgentListError](t, rec)
	if body.Source != "error" {
		t.Errorf("expected source error, got %q", body.Source)
	}
	if body.Error.Name != "HTTPError" || body.Error.Code != http.StatusBadGateway {
		t.Errorf("unexpected error detail %+v", body.Error)
	}
	if !strings.Contains(body.Error.Message, "502") {
		t.Errorf("expected status in message, got %q", body.Error.Message)
	}
	if body.Total != 1 || len(body.Items) != 1 {
		t.Errorf("expected fallback items, got total=%d", body.Total)
	}
}

func TestAgentListSnapshotFallback(t *testing.T) {
	store, err := snapshot.Open(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	up := newUpstream(t, upstreamPage)
	srv := newTestServer(testConfig(up.server.URL), WithSnapshots(store))

	if rec := get(t, srv.Handler(), "/api/agent-list"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if n, _ := store.Count(context.Background()); n != 1 {
		t.Fatalf("expected 1 snapshot, got %d", n)
	}

	up.status.Store(http.StatusInternalServerError)
	rec := get(t, srv.Handler(), "/api/agent-list")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decode[AgentListError](t, rec)
	if body.Total != 2 || body.Items[0].Name != "Alpha Migration" {
		t.Errorf("expected snapshot items, got %+v", body.Items)
	}

	// an empty parse also prefers the snapshot
	up.status.Store(http.StatusOK)
	up.body.Store("<html></html>")
	ok := decode[AgentList](t, get(t, srv.Handler(), "/api/agent-list"))
	if ok.Diagnostics.FallbackSource != "snapshot" || ok.Total != 2 {
		t.Errorf("expected snapshot fallback, got %+v", ok.Diagnostics)
	}
}

func TestAgentListLocalExample(t *testing.T) {
	up := newUpstream(t, "<html></html>")
	cfg := testConfig(up.server.URL)
	cfg.Upstream.LocalExampleHTML = true
	cfg.Upstream.LocalExamplePath = "example.html"

	srv := newTestServer(cfg)
	srv.readFile = func(path string) ([]byte, error) {
		if path != "example.html" {
			t.Errorf("unexpected path %q", path)
		}
		return []byte(upstreamPage), nil
	}

	body := decode[AgentList](t, get(t, srv.Handler(), "/api/agent-list"))
	if body.Source != SourceLocal || body.Total != 2 {
		t.Errorf("expected local source with 2 items, got %q/%d", body.Source, body.Total)
	}
	if up.query.Load() != nil {
		t.Error("upstream should not be contacted in local mode")
	}
}

func TestAgentListLocalExampleSkipsSnapshot(t *testing.T) {
	store, err := snapshot.Open(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	cfg := testConfig("http://127.0.0.1:0")
	cfg.Upstream.LocalExampleHTML = true
	srv := newTestServer(cfg, WithSnapshots(store))
	srv.readFile = func(string) ([]byte, error) { return []byte(upstreamPage), nil }

	if rec := get(t, srv.Handler(), "/api/agent-list"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("local pages should not be stored, got %d snapshots", n)
	}
}

func TestAgentListLocalExampleMissing(t *testing.T) {
	up := newUpstream(t, upstreamPage)
	cfg := testConfig(up.server.URL)
	cfg.Upstream.LocalExampleHTML = true

	srv := newTestServer(cfg)
	srv.readFile = func(string) ([]byte, error) { return nil, errors.New("no such file") }

	body := decode[AgentList](t, get(t, srv.Handler(), "/api/agent-list"))
	if body.Source != up.server.URL || body.Total != 2 {
		t.Errorf("expected upstream fallback, got %q/%d", body.Source, body.Total)
	}
}

func TestRecoverAgentList(t *testing.T) {
	srv := newTestServer(testConfig("http://127.0.0.1:0"))
	h := srv.withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("parser exploded")
	}))

	rec := get(t, h, "/api/agent-list")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decode[AgentListError](t, rec)
	if body.Error.Name != "PanicError" || body.Total != 1 {
		t.Errorf("unexpected envelope %+v", body)
	}
}

func TestRecoverOtherRoutes(t *testing.T) {
	srv := newTestServer(testConfig("http://127.0.0.1:0"))
	h := srv.withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := get(t, h, "/api/health")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "error" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(testConfig("http://127.0.0.1:0"))

	rec := get(t, srv.Handler(), "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[Health](t, rec)
	if body.Status != "ok" || body.Environment.Mode != config.ModeDevelopment || body.Platform.OS == "" {
		t.Errorf("unexpected health %+v", body)
	}
}

func TestVisaStatusesNotConfigured(t *testing.T) {
	srv := newTestServer(testConfig("http://127.0.0.1:0"))

	rec := get(t, srv.Handler(), "/api/visa-statuses")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["source"] != visa.SourceConfigError || body["success"] != false {
		t.Errorf("unexpected body %v", body)
	}
	if data, ok := body["data"].([]any); !ok || len(data) != len(visa.DefaultStatuses()) {
		t.Errorf("expected default statuses, got %v", body["data"])
	}
}

func TestVisaStatusesOrigin(t *testing.T) {
	var gotOrigin atomic.Value
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			fmt.Fprint(w, `{"access_token":"t","expires_in":600}`)
		default:
			gotOrigin.Store(r.URL.Query().Get("Origin"))
			fmt.Fprint(w, `[]`)
		}
	}))
	defer api.Close()

	cfg := testConfig("http://127.0.0.1:0")
	client := visa.New(visa.Credentials{BaseURL: api.URL, Username: "u", Password: "p"}, api.Client(), nil)
	srv := newTestServer(cfg, WithVisaClient(client))

	body := decode[map[string]any](t, get(t, srv.Handler(), "/api/visa-statuses?origin=OnshoreStudent"))
	if body["source"] != visa.SourceAPI {
		t.Errorf("expected api source, got %v", body["source"])
	}
	if gotOrigin.Load() != "OnshoreStudent" {
		t.Errorf("origin not forwarded, got %v", gotOrigin.Load())
	}
}

func TestRequestIDHonoured(t *testing.T) {
	srv := newTestServer(testConfig("http://127.0.0.1:0"))
	id := "5f0c6f0e-4a4b-4f55-9c43-6b2f1d1f0a11"

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-Id", id)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != id {
		t.Errorf("expected %s, got %s", id, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-Id", "not-a-uuid")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got == "not-a-uuid" || got == "" {
		t.Errorf("expected a generated id, got %q", got)
	}
}

func TestUnknownLocaleFallsBack(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.Sort.Locale = "!!"
	srv := New(cfg, nil)
	if srv.locale != agents.DefaultLocale {
		t.Errorf("expected default locale, got %v", srv.locale)
	}
}

func TestClassifyJoinedErrors(t *testing.T) {
	err := fmt.Errorf("fetching upstream: %w", errors.Join(
		&fetcher.StatusError{Code: http.StatusServiceUnavailable, Status: "503 Service Unavailable"},
		errors.New("browser fetch: exec: not found"),
	))
	name, code := classify(err)
	if name != "HTTPError" || code != http.StatusServiceUnavailable {
		t.Errorf("expected HTTPError/503, got %s/%d", name, code)
	}

	if name, _ := classify(fmt.Errorf("x: %w", context.DeadlineExceeded)); name != "TimeoutError" {
		t.Errorf("expected TimeoutError, got %s", name)
	}
	if name, _ := classify(errors.New("dial tcp: refused")); name != "FetchError" {
		t.Errorf("expected FetchError, got %s", name)
	}
}

func TestDebugNetwork(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "Microsoft-IIS/10.0")
		w.Header().Set("X-Powered-By", "ASP.NET")
		fmt.Fprint(w, upstreamPage)
	}))
	defer up.Close()

	srv := newTestServer(testConfig(up.URL))
	rec := get(t, srv.Handler(), "/api/debug-network")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[NetworkDebug](t, rec)

	if body.TargetURL != up.URL || body.RequestID == "" {
		t.Errorf("unexpected header fields %+v", body)
	}
	checks := make(map[string]NetworkCheck)
	for _, c := range body.Tests {
		checks[c.Name] = c
	}

	dns := checks[CheckDNS]
	if dns.Status != "success" || len(dns.Addresses) == 0 || dns.Addresses[0] != "127.0.0.1" {
		t.Errorf("unexpected DNS check %+v", dns)
	}
	head := checks[CheckHead]
	if head.Status != "success" || head.StatusCode != http.StatusOK || head.Headers["server"] != "Microsoft-IIS/10.0" {
		t.Errorf("unexpected HEAD check %+v", head)
	}
	if head.Content != nil {
		t.Error("HEAD check should not analyze content")
	}
	getCheck := checks[CheckGet]
	if getCheck.Status != "success" || getCheck.Content == nil {
		t.Fatalf("unexpected GET check %+v", getCheck)
	}
	c := getCheck.Content
	if !c.IsHTML || !c.HasAgentList || !c.ContainsAgentListwrap || !c.HasAgentNameElements {
		t.Errorf("unexpected content analysis %+v", c)
	}
	if c.ContentLength != len(upstreamPage) || len([]rune(c.FirstCharacters)) != 200 {
		t.Errorf("unexpected content sizes %d/%d", c.ContentLength, len([]rune(c.FirstCharacters)))
	}

	// the https variant of a plain http test server cannot succeed
	if len(body.Tests) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(body.Tests))
	}
	sum := body.Summary
	if sum.TotalTests != 4 || sum.SuccessfulTests != 3 || sum.FailedTests != 1 || sum.OverallStatus != "partial" {
		t.Errorf("unexpected summary %+v", sum)
	}
	if !strings.Contains(sum.Recommendation, "agent list is present") {
		t.Errorf("unexpected recommendation %q", sum.Recommendation)
	}
}

func TestDebugNetworkUpstreamDown(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer up.Close()

	srv := newTestServer(testConfig(up.URL))
	body := decode[NetworkDebug](t, get(t, srv.Handler(), "/api/debug-network"))

	for _, c := range body.Tests {
		if c.Name == CheckHead && (c.Status != "failed" || c.StatusCode != http.StatusServiceUnavailable) {
			t.Errorf("unexpected HEAD check %+v", c)
		}
		if c.Name == CheckGet && c.Content != nil {
			t.Error("failed GET should carry no content analysis")
		}
	}
	if !strings.HasPrefix(body.Summary.Recommendation, "HTTP connectivity failed") {
		t.Errorf("unexpected recommendation %q", body.Summary.Recommendation)
	}
}

func TestDebugNetworkInvalidUpstream(t *testing.T) {
	srv := newTestServer(testConfig("not a url"))
	body := decode[NetworkDebug](t, get(t, srv.Handler(), "/api/debug-network"))

	if len(body.Tests) != 1 || body.Tests[0].Status != "failed" {
		t.Fatalf("expected one failed check, got %+v", body.Tests)
	}
	if body.Summary.OverallStatus != "failed" || !strings.HasPrefix(body.Summary.Recommendation, "DNS") {
		t.Errorf("unexpected summary %+v", body.Summary)
	}
}

func TestAlternativeURLs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{
			"https://agents.example.edu.au/List.aspx",
			[]string{"http://agents.example.edu.au/List.aspx", "https://www.agents.example.edu.au/List.aspx"},
		},
		{"https://www.example.com/", []string{"http://www.example.com/"}},
		{"http://127.0.0.1:8080/x", []string{"https://127.0.0.1:8080/x"}},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		got := alternativeURLs(u)
		if strings.Join(got, " ") != strings.Join(tt.want, " ") {
			t.Errorf("alternativeURLs(%s) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
