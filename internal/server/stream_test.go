package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

type streamEvent struct {
	name string
	id   string
	data string
}

// readEvents parses server-sent events from reader onto a channel until the
// stream closes.
func readEvents(reader *bufio.Reader) <-chan streamEvent {
	events := make(chan streamEvent, 16)
	go func() {
		defer close(events)
		current := streamEvent{}
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if current.name != "" {
					events <- current
				}
				current = streamEvent{}
			case strings.HasPrefix(line, "event:"):
				current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "id:"):
				current.id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			case strings.HasPrefix(line, "data:"):
				current.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()
	return events
}

func openStream(testContext *testing.T, server *httptest.Server, path, lastEventID string) <-chan streamEvent {
	testContext.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	testContext.Cleanup(cancel)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+path, http.NoBody)
	if err != nil {
		testContext.Fatalf("failed to construct stream request: %v", err)
	}
	if lastEventID != "" {
		request.Header.Set("Last-Event-ID", lastEventID)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("failed to open stream: %v", err)
	}
	testContext.Cleanup(func() { _ = response.Body.Close() })
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected stream status: %d", response.StatusCode)
	}
	if contentType := response.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		testContext.Fatalf("unexpected content type %q", contentType)
	}
	return readEvents(bufio.NewReader(response.Body))
}

func nextChange(testContext *testing.T, events <-chan streamEvent) streamEvent {
	testContext.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			testContext.Fatal("timed out waiting for change event")
		case event, ok := <-events:
			if !ok {
				testContext.Fatal("stream closed before change event")
			}
			if event.name == changeEventName {
				return event
			}
		}
	}
}

func TestChangeStreamEmitsChangesInOrder(testContext *testing.T) {
	fixture := newChangesFixture(testContext)
	server := httptest.NewServer(fixture.handler)
	testContext.Cleanup(server.Close)

	backlog := fixture.append(testContext, "item", "insert", `{"id":"k1","name":"a"}`)
	events := openStream(testContext, server, "/changes/stream?table=item", "")

	first := nextChange(testContext, events)
	if first.id != strconv.FormatInt(backlog.ID, 10) {
		testContext.Fatalf("expected backlog change %d first, got %s", backlog.ID, first.id)
	}
	var decoded struct {
		Operation string          `json:"operation"`
		Value     json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal([]byte(first.data), &decoded); err != nil {
		testContext.Fatalf("failed to decode event payload: %v", err)
	}
	if decoded.Operation != "insert" || string(decoded.Value) != `{"id":"k1","name":"a"}` {
		testContext.Fatalf("unexpected event payload %s", first.data)
	}

	fixture.append(testContext, "order", "insert", `{"id":"o1"}`)
	live := fixture.append(testContext, "item", "update", `{"id":"k1","name":"b"}`)
	fixture.dispatcher.Publish(live)

	second := nextChange(testContext, events)
	if second.id != strconv.FormatInt(live.ID, 10) {
		testContext.Fatalf("expected live change %d, got %s", live.ID, second.id)
	}
}

func TestChangeStreamResumesFromLastEventID(testContext *testing.T) {
	fixture := newChangesFixture(testContext)
	server := httptest.NewServer(fixture.handler)
	testContext.Cleanup(server.Close)

	seen := fixture.append(testContext, "item", "insert", `{"id":"k1"}`)
	pending := fixture.append(testContext, "item", "update", `{"id":"k1","name":"b"}`)

	events := openStream(testContext, server, "/changes/stream?after=0", strconv.FormatInt(seen.ID, 10))
	event := nextChange(testContext, events)
	if event.id != strconv.FormatInt(pending.ID, 10) {
		testContext.Fatalf("expected resume at change %d, got %s", pending.ID, event.id)
	}
}
