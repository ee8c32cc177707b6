package devkit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// Reply is one scripted answer from the fake bank. Body is JSON-encoded unless
// it is already a string or []byte.
type Reply struct {
	Status  int
	Body    any
	Headers map[string]string
}

type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	Form   url.Values
}

// JSON decodes the recorded body into a map.
func (r RecordedRequest) JSON() map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal(r.Body, &out)
	return out
}

type HandlerFunc func(req RecordedRequest) Reply

// FakeBank is an httptest server with scripted routes that records every
// request it receives.
type FakeBank struct {
	mu       sync.Mutex
	server   *httptest.Server
	handlers map[string]HandlerFunc
	requests []RecordedRequest
}

func NewFakeBank() *FakeBank {
	bank := &FakeBank{handlers: map[string]HandlerFunc{}}
	bank.server = httptest.NewServer(http.HandlerFunc(bank.serve))
	return bank
}

func (b *FakeBank) URL() string {
	return b.server.URL
}

func (b *FakeBank) Client() *http.Client {
	return b.server.Client()
}

func (b *FakeBank) Close() {
	b.server.Close()
}

func (b *FakeBank) Handle(method string, path string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[routeKey(method, path)] = fn
}

// Script answers method+path with replies in order. The last reply repeats.
func (b *FakeBank) Script(method string, path string, replies ...Reply) {
	var (
		mu    sync.Mutex
		index int
	)
	b.Handle(method, path, func(RecordedRequest) Reply {
		mu.Lock()
		defer mu.Unlock()
		if len(replies) == 0 {
			return Reply{Status: http.StatusOK}
		}
		reply := replies[index]
		if index < len(replies)-1 {
			index++
		}
		return reply
	})
}

func (b *FakeBank) Requests(method string, path string) []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []RecordedRequest{}
	for _, req := range b.requests {
		if routeKey(req.Method, req.Path) == routeKey(method, path) {
			out = append(out, req)
		}
	}
	return out
}

func (b *FakeBank) Count(method string, path string) int {
	return len(b.Requests(method, path))
}

func (b *FakeBank) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	recorded := RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
		Form:   url.Values{},
	}
	if strings.Contains(r.Header.Get("Content-Type"), "x-www-form-urlencoded") {
		if form, err := url.ParseQuery(string(body)); err == nil {
			recorded.Form = form
		}
	}

	b.mu.Lock()
	b.requests = append(b.requests, recorded)
	handler, ok := b.handlers[routeKey(r.Method, r.URL.Path)]
	b.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	writeReply(w, handler(recorded))
}

func writeReply(w http.ResponseWriter, reply Reply) {
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	for key, value := range reply.Headers {
		w.Header().Set(key, value)
	}

	var payload []byte
	switch typed := reply.Body.(type) {
	case nil:
	case string:
		payload = []byte(typed)
	case []byte:
		payload = typed
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		payload = encoded
	}
	if len(payload) > 0 && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func routeKey(method string, path string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + strings.TrimSpace(path)
}
