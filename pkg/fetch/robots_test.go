package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRobotsHandler_Allowed(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	rh := NewRobotsHandler(testFetcher(testConfig(0)), "wwwsave-test", testLogger())
	allowed, _ := url.Parse(server.URL + "/public/a.png")
	blocked, _ := url.Parse(server.URL + "/private/b.png")

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rh.Allowed(context.Background(), allowed)
		}()
	}
	wg.Wait()

	if !rh.Allowed(context.Background(), allowed) {
		t.Error("expected /public/ to be allowed")
	}
	if rh.Allowed(context.Background(), blocked) {
		t.Error("expected /private/ to be disallowed")
	}
	if hits.Load() != 1 {
		t.Errorf("expected robots.txt fetched once, got %d", hits.Load())
	}
}

func TestRobotsHandler_MissingFileAllowsAll(t *testing.T) {
	server, _ := mockServer(t, []int{404})

	rh := NewRobotsHandler(testFetcher(testConfig(0)), "wwwsave-test", testLogger())
	target, _ := url.Parse(server.URL + "/anything")

	if !rh.Allowed(context.Background(), target) {
		t.Error("expected a missing robots.txt to allow everything")
	}
	if data := rh.GetRobotsData(context.Background(), target); data != nil {
		t.Error("expected nil robots data for 404")
	}
}
