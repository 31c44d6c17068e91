package api

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

const testUserAgent = "tag-search-test/1.0"

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Form   url.Values
}

// fakeServer routes by path and records every request it receives
type fakeServer struct {
	*httptest.Server
	mutex    sync.Mutex
	requests []recordedRequest
	handlers map[string]http.HandlerFunc
}

func newFakeServer(t *testing.T, handlers map[string]http.HandlerFunc) *fakeServer {
	t.Helper()
	f := &fakeServer{handlers: handlers}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mutex.Lock()
		f.requests = append(f.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Form:   r.PostForm,
		})
		f.mutex.Unlock()

		handler, ok := f.handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) all() []recordedRequest {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := make([]recordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *fakeServer) requestsTo(path string) []recordedRequest {
	var out []recordedRequest
	for _, r := range f.all() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, body)
	}
}

func redditRecord(id, title string) string {
	return fmt.Sprintf(`{"id":%q,"title":%q,"author":"gopher","subreddit":"golang",`+
		`"permalink":"/r/golang/comments/%s/","url":"https://go.dev","selftext":"",`+
		`"score":10,"num_comments":2,"created_utc":1700000000.0}`, id, title, id)
}

func listingJSON(records ...string) string {
	children := make([]string, 0, len(records))
	for _, record := range records {
		children = append(children, `{"kind":"t3","data":`+record+`}`)
	}
	return `{"kind":"Listing","data":{"after":null,"children":[` + strings.Join(children, ",") + `]}}`
}

func tokenJSON(token string) string {
	return fmt.Sprintf(`{"access_token":%q,"token_type":"bearer","expires_in":3600,"scope":"read"}`, token)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestReddit(srv *fakeServer, creds Credentials, sink EventSink) *RedditService {
	return NewRedditService(RedditConfig{
		Credentials:   creds,
		UserAgent:     testUserAgent,
		AuthURL:       srv.URL + "/api/v1/access_token",
		APIBaseURL:    srv.URL,
		PublicBaseURL: srv.URL,
	}, testLogger(), WithHTTPClient(srv.Client()), WithEventSink(sink), WithoutRateLimit())
}
