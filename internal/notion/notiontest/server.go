// Package notiontest provides an in-process stub of the remote content API
// for tests: pages with editable last-edited timestamps, paginated block
// children, a queryable blog database, failure injection and call counting.
package notiontest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/notionfolio/notionfolio/internal/logging"
	"github.com/notionfolio/notionfolio/internal/notion"
)

// Operation names used by Fail and Calls.
const (
	OpRetrievePage  = "retrieve_page"
	OpListChildren  = "list_children"
	OpQueryDatabase = "query_database"
)

// Server 模拟远端 API，所有状态均受 mu 保护，可在测试中随时修改。
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	pages    map[string]map[string]any
	children map[string][]map[string]any
	database map[string][]string
	failures map[string]int
	calls    map[string]int
	pageSize int
}

// NewServer starts a stub and closes it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		pages:    make(map[string]map[string]any),
		children: make(map[string][]map[string]any),
		database: make(map[string][]string),
		failures: make(map[string]int),
		calls:    make(map[string]int),
		pageSize: 100,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /pages/{id}", s.handlePage)
	mux.HandleFunc("GET /blocks/{id}/children", s.handleChildren)
	mux.HandleFunc("POST /databases/{id}/query", s.handleQuery)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Server.Close)
	return s
}

// Client returns a notion.Client pointed at the stub with no retries.
func (s *Server) Client(t testing.TB) *notion.Client {
	t.Helper()
	return s.ClientWithRetries(t, 0)
}

// ClientWithRetries returns a client that retries transient failures with a
// millisecond backoff.
func (s *Server) ClientWithRetries(t testing.TB, retries int) *notion.Client {
	t.Helper()
	client, err := notion.NewClient(notion.ClientOptions{
		BaseURL:        s.URL,
		Token:          "secret_stub",
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		HTTPClient:     s.Server.Client(),
		Logger:         logging.Discard(),
	})
	if err != nil {
		t.Fatalf("build stub client: %v", err)
	}
	return client
}

// SetPageSize caps how many children or query results one response carries.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// AddPage registers a page document. props maps property names to values
// built with the *Prop helpers.
func (s *Server) AddPage(id, lastEdited string, props map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if props == nil {
		props = map[string]any{}
	}
	s.pages[id] = map[string]any{
		"object":           "page",
		"id":               id,
		"created_time":     "2024-01-01T00:00:00.000Z",
		"last_edited_time": lastEdited,
		"archived":         false,
		"url":              "https://www.notion.so/" + id,
		"properties":       props,
	}
}

// SetCover attaches an external cover to a page.
func (s *Server) SetCover(id, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page, ok := s.pages[id]; ok {
		page["cover"] = map[string]any{"type": "external", "external": map[string]any{"url": url}}
	}
}

// Touch changes a page's last-edited timestamp, as an edit would.
func (s *Server) Touch(id, lastEdited string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page, ok := s.pages[id]; ok {
		page["last_edited_time"] = lastEdited
	}
}

// SetChildren replaces the children of a page or block.
func (s *Server) SetChildren(parentID string, blocks ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[parentID] = append([]map[string]any(nil), blocks...)
}

// Publish lists page IDs, in order, as the query result of a database.
func (s *Server) Publish(databaseID string, pageIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.database[databaseID] = append([]string(nil), pageIDs...)
}

// Fail makes every request for (op, id) answer with status until cleared
// with status 0.
func (s *Server) Fail(op, id string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, op+":"+id)
		return
	}
	s.failures[op+":"+id] = status
}

// Calls reports how many requests reached (op, id).
func (s *Server) Calls(op, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op+":"+id]
}

// TotalCalls reports how many requests reached op for any ID.
func (s *Server) TotalCalls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	prefix := op + ":"
	for key, n := range s.calls {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			total += n
		}
	}
	return total
}

func (s *Server) record(op, id string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op+":"+id]++
	status, failing := s.failures[op+":"+id]
	return status, failing
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if status, failing := s.record(OpRetrievePage, id); failing {
		writeError(w, status)
		return
	}

	s.mu.Lock()
	page, ok := s.pages[id]
	var body []byte
	if ok {
		body, _ = json.Marshal(page)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if status, failing := s.record(OpListChildren, id); failing {
		writeError(w, status)
		return
	}

	limit := s.limit(r.URL.Query().Get("page_size"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("start_cursor"))

	s.mu.Lock()
	all := s.children[id]
	results, next := window(all, offset, limit)
	s.mu.Unlock()

	writeList(w, results, next)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if status, failing := s.record(OpQueryDatabase, id); failing {
		writeError(w, status)
		return
	}

	var q notion.DatabaseQuery
	_ = json.NewDecoder(r.Body).Decode(&q)
	limit := s.limit(strconv.Itoa(q.PageSize))
	offset, _ := strconv.Atoi(q.StartCursor)

	s.mu.Lock()
	docs := make([]map[string]any, 0, len(s.database[id]))
	for _, pageID := range s.database[id] {
		if page, ok := s.pages[pageID]; ok {
			docs = append(docs, page)
		}
	}
	results, next := window(docs, offset, limit)
	s.mu.Unlock()

	writeList(w, results, next)
}

func (s *Server) limit(raw string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > s.pageSize {
		return s.pageSize
	}
	return n
}

func window(all []map[string]any, offset, limit int) ([]map[string]any, string) {
	if offset >= len(all) {
		return []map[string]any{}, ""
	}
	end := offset + limit
	if end >= len(all) {
		return all[offset:], ""
	}
	return all[offset:end], strconv.Itoa(end)
}

func writeList(w http.ResponseWriter, results []map[string]any, next string) {
	payload := map[string]any{
		"object":   "list",
		"results":  results,
		"has_more": next != "",
	}
	if next != "" {
		payload["next_cursor"] = next
	} else {
		payload["next_cursor"] = nil
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int) {
	code := "internal_server_error"
	switch status {
	case http.StatusNotFound:
		code = "object_not_found"
	case http.StatusTooManyRequests:
		code = "rate_limited"
	case http.StatusBadRequest:
		code = "validation_error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object":  "error",
		"status":  status,
		"code":    code,
		"message": fmt.Sprintf("stub failure %d", status),
	})
}
