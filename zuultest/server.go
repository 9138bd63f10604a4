// Package zuultest provides an in-memory zuul-web builds API for tests.
//
// Example:
//
//	server := zuultest.NewServer("/api/tenant/local/")
//	defer server.Close()
//	server.SetBuilds(zuultest.MakeBuild("b2", now), zuultest.MakeBuild("b1", now))
//
//	c, err := client.NewFromString(server.URL())
package zuultest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andrejsstepanovs/zuul-build/models"
)

// MakeBuild returns a valid build that ended at end and lasted 42 minutes.
func MakeBuild(uuid string, end time.Time) models.Build {
	change := uint64(42)
	logURL := "http://localhost/" + uuid
	endTime := models.NewTimestamp(end)
	return models.Build{
		UUID:      uuid,
		JobName:   "job",
		Result:    "SUCCESS",
		StartTime: models.Timestamp{Time: endTime.Add(-42 * time.Minute)},
		EndTime:   endTime,
		Duration:  42 * 60,
		Voting:    true,
		LogURL:    &logURL,
		Artifacts: []models.Artifact{},
		Project:   "project",
		Branch:    "main",
		Pipeline:  "check",
		Change:    &change,
		Ref:       "head",
		EventID:   "uuid",
	}
}

// Server serves GET {prefix}builds and GET {prefix}build/{uuid}.
//
// By default a builds request returns the window [skip, skip+limit) of the
// stored builds. Scripted pages and failures take precedence, which lets
// tests reproduce pages that slide between requests.
type Server struct {
	server *httptest.Server
	prefix string

	mu       sync.Mutex
	builds   []json.RawMessage
	latest   []json.RawMessage
	pages    map[uint32][]json.RawMessage
	failures map[uint32][]int
	delays   map[uint32][]time.Duration
	requests []url.Values
}

// NewServer starts a server whose api root is prefix ("/" when empty).
func NewServer(prefix string) *Server {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	s := &Server{
		prefix:   prefix,
		pages:    make(map[uint32][]json.RawMessage),
		failures: make(map[uint32][]int),
		delays:   make(map[uint32][]time.Duration),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handleRequest))
	return s
}

// URL returns the api root url.
func (s *Server) URL() string {
	return s.server.URL + s.prefix
}

// Close shuts down the server.
func (s *Server) Close() {
	s.server.Close()
}

// SetBuilds replaces the stored builds, newest first.
func (s *Server) SetBuilds(builds ...models.Build) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds = mustEncode(builds)
}

// PrependBuilds adds newer builds in front of the stored ones.
func (s *Server) PrependBuilds(builds ...models.Build) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds = append(mustEncode(builds), s.builds...)
}

// AppendRaw stores a raw JSON element after the stored builds.
func (s *Server) AppendRaw(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds = append(s.builds, json.RawMessage(raw))
}

// SetLatest scripts the response of limit=1 requests.
func (s *Server) SetLatest(builds ...models.Build) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = mustEncode(builds)
}

// SetPage scripts the response for a given skip value.
func (s *Server) SetPage(skip uint32, builds ...models.Build) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[skip] = mustEncode(builds)
}

// FailNext makes the next requests for skip answer with the given statuses,
// one per request.
func (s *Server) FailNext(skip uint32, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[skip] = append(s.failures[skip], statuses...)
}

// DelayNext makes the next requests for skip wait d before answering, one
// delay per request. A request whose client gives up stops waiting.
func (s *Server) DelayNext(skip uint32, delays ...time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[skip] = append(s.delays[skip], delays...)
}

// Requests returns the query of every builds request received so far.
func (s *Server) Requests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rel, ok := strings.CutPrefix(r.URL.Path, s.prefix)
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch {
	case rel == "builds":
		if !s.wait(r) {
			return
		}
		s.handleBuilds(w, r)
	case strings.HasPrefix(rel, "build/"):
		s.handleBuild(w, strings.TrimPrefix(rel, "build/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := r.URL.Query()
	s.requests = append(s.requests, query)

	skip, err := parseUint(query.Get("skip"), 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := parseUint(query.Get("limit"), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if queued := s.failures[skip]; len(queued) > 0 {
		s.failures[skip] = queued[1:]
		http.Error(w, http.StatusText(queued[0]), queued[0])
		return
	}

	var page []json.RawMessage
	switch scripted, ok := s.pages[skip]; {
	case limit == 1 && s.latest != nil:
		page = s.latest
	case ok:
		page = scripted
	default:
		page = window(s.filter(query), skip, limit)
	}
	writeJSON(w, page)
}

// wait sleeps for the delay queued for the request skip. It reports false
// when the request was abandoned meanwhile.
func (s *Server) wait(r *http.Request) bool {
	skip, err := parseUint(r.URL.Query().Get("skip"), 0)
	if err != nil {
		return true
	}

	s.mu.Lock()
	queued := s.delays[skip]
	if len(queued) == 0 {
		s.mu.Unlock()
		return true
	}
	s.delays[skip] = queued[1:]
	s.mu.Unlock()

	timer := time.NewTimer(queued[0])
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

func (s *Server) handleBuild(w http.ResponseWriter, uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, raw := range s.builds {
		var id struct {
			UUID string `json:"uuid"`
		}
		if json.Unmarshal(raw, &id) == nil && id.UUID == uuid {
			writeJSON(w, raw)
			return
		}
	}
	http.Error(w, "Build not found", http.StatusNotFound)
}

func (s *Server) filter(query url.Values) []json.RawMessage {
	keys := []string{"project", "pipeline", "job_name", "branch", "result"}
	var wanted []string
	for _, k := range keys {
		if query.Get(k) != "" {
			wanted = append(wanted, k)
		}
	}
	if len(wanted) == 0 {
		return s.builds
	}

	var out []json.RawMessage
	for _, raw := range s.builds {
		var fields map[string]any
		if json.Unmarshal(raw, &fields) != nil {
			continue
		}
		match := true
		for _, k := range wanted {
			if fmt.Sprint(fields[k]) != query.Get(k) {
				match = false
				break
			}
		}
		if match {
			out = append(out, raw)
		}
	}
	return out
}

func window(items []json.RawMessage, skip, limit uint32) []json.RawMessage {
	if int(skip) >= len(items) {
		return []json.RawMessage{}
	}
	end := int(skip) + int(limit)
	if end > len(items) {
		end = len(items)
	}
	return items[skip:end]
}

func parseUint(s string, fallback uint32) (uint32, error) {
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(v), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func mustEncode(builds []models.Build) []json.RawMessage {
	out := make([]json.RawMessage, len(builds))
	for i, b := range builds {
		data, err := json.Marshal(b)
		if err != nil {
			panic(fmt.Sprintf("zuultest: cannot encode build %s: %v", b.UUID, err))
		}
		out[i] = data
	}
	return out
}
