package apihttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"sampurr/internal/domain"
)

func waitForClients(t *testing.T, feed *ActivityFeed, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for feed.hub.clientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d ws clients, have %d", want, feed.hub.clientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dialWS(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return websocket.DefaultDialer.Dial(url, header)
}

func TestActivityFeedDeliversEvents(t *testing.T) {
	feed := NewActivityFeed(discardLogger())
	s := newTestServer(t, nil, WithActivityFeed(feed))
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn, _, err := dialWS(t, srv, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, feed, 1)

	feed.Publish(domain.Event{Type: domain.EventExtractionProgress, TrackID: "abc", Percent: 42})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type string       `json:"type"`
		Data domain.Event `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if msg.Type != "extraction_progress" || msg.Data.TrackID != "abc" || msg.Data.Percent != 42 {
		t.Fatalf("unexpected message %s", data)
	}
}

func TestActivityFeedRejectsUnknownOrigin(t *testing.T) {
	s := newTestServer(t, nil, WithAllowedOrigins([]string{"http://localhost:8080"}))
	srv := httptest.NewServer(s)
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "http://evil.com")
	conn, resp, err := dialWS(t, srv, header)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestActivityFeedCloseDisconnectsClients(t *testing.T) {
	feed := NewActivityFeed(discardLogger())
	s := newTestServer(t, nil, WithActivityFeed(feed))
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn, _, err := dialWS(t, srv, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, feed, 1)

	feed.Close()
	waitForClients(t, feed, 0)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
	// Publishing after close must not block or panic.
	feed.Publish(domain.Event{Type: domain.EventCacheSwept})
}

func TestActivityFeedPublishWithoutClients(t *testing.T) {
	feed := NewActivityFeed(discardLogger())
	defer feed.Close()

	for i := 0; i < 200; i++ {
		feed.Publish(domain.Event{Type: domain.EventExtractionStarted})
	}
	if n := feed.hub.clientCount(); n != 0 {
		t.Fatalf("expected no clients, got %d", n)
	}
}
