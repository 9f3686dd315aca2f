package particle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sheerbytes/camrelay/pkg/protocol"
)

func TestRun_DeliversEvents(t *testing.T) {
	var mu sync.Mutex
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ":ok\n\n")
		fmt.Fprint(w, "event: loc\n")
		fmt.Fprint(w, `data: {"data":"{\"lat\":1}","ttl":60,"published_at":"2020-10-01T12:00:00.000Z","coreid":"dev1"}`+"\n\n")
		fmt.Fprint(w, "event: camera\n")
		fmt.Fprint(w, `data: {"data":"{\"op\":\"start\"}","ttl":60,"published_at":"2020-10-01T12:00:01.000Z","coreid":"dev1"}`+"\n\n")
		fmt.Fprint(w, "event: camera\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "event: other\n")
		fmt.Fprint(w, `data: {"data":"","coreid":"dev2"}`+"\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	c := New(Options{APIURL: server.URL, Token: "tok", ProductID: 77, ReconnectDelay: time.Hour, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []protocol.Event
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(ev protocol.Event) {
			mu.Lock()
			events = append(events, ev)
			n := len(events)
			mu.Unlock()
			if n == 3 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/v1/products/77/events" {
		t.Errorf("path = %s, want /v1/products/77/events", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Kind != protocol.KindLocation || events[0].DeviceID != "dev1" || events[0].Payload != `{"lat":1}` {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Kind != protocol.KindTransfer || events[1].Timestamp != "2020-10-01T12:00:01.000Z" {
		t.Errorf("event 1 = %+v", events[1])
	}
	if events[2].Kind != protocol.KindOther || events[2].DeviceID != "dev2" {
		t.Errorf("event 2 = %+v", events[2])
	}
}

func TestRun_Reconnects(t *testing.T) {
	var mu sync.Mutex
	connects := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connects++
		n := connects
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "event: camera\n")
		fmt.Fprintf(w, `data: {"data":"%d","coreid":"dev1"}`+"\n\n", n)
	}))
	defer server.Close()

	c := New(Options{APIURL: server.URL, ProductID: 1, ReconnectDelay: 10 * time.Millisecond, Logger: testLogger()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []string
	err := c.Run(ctx, func(ev protocol.Event) {
		got = append(got, ev.Payload)
		if len(got) == 2 {
			cancel()
		}
	})
	if err != context.Canceled {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(got) != 2 || got[0] != "2" || got[1] != "3" {
		t.Errorf("payloads = %v, want [2 3]", got)
	}
}

func TestRun_ResumesWithLastEventID(t *testing.T) {
	var mu sync.Mutex
	var lastIDs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		lastIDs = append(lastIDs, r.Header.Get("Last-Event-ID"))
		n := len(lastIDs)
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "id: %d\n", n*10)
		fmt.Fprint(w, "event: camera\n")
		fmt.Fprint(w, `data: {"data":"part",`+"\n")
		fmt.Fprint(w, `data: "coreid":"dev1"}`+"\n\n")
	}))
	defer server.Close()

	c := New(Options{APIURL: server.URL, ProductID: 1, ReconnectDelay: 10 * time.Millisecond, Logger: testLogger()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []protocol.Event
	err := c.Run(ctx, func(ev protocol.Event) {
		got = append(got, ev)
		if len(got) == 2 {
			cancel()
		}
	})
	if err != context.Canceled {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(got) != 2 || got[0].Payload != "part" || got[0].DeviceID != "dev1" {
		t.Fatalf("events = %+v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lastIDs) < 2 || lastIDs[0] != "" || lastIDs[1] != "10" {
		t.Errorf("Last-Event-ID per connection = %q, want [\"\" \"10\" ...]", lastIDs)
	}
}
