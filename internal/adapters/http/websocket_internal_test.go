package http

import "testing"

func TestGridFilter(t *testing.T) {
	f := &gridFilter{all: true, sources: make(map[string]bool)}
	if !f.allows("xyz") {
		t.Fatal("new clients receive every grid")
	}

	if _, ok := f.apply(wsMessage{Action: "subscribe", Source: "overpass"}); !ok {
		t.Fatal("subscribe rejected")
	}
	if f.allows("xyz") || !f.allows("overpass") {
		t.Error("subscribing to a source narrows the feed")
	}

	f.apply(wsMessage{Action: "unsubscribe", Source: "overpass"})
	if f.allows("overpass") {
		t.Error("unsubscribed source still allowed")
	}

	f.apply(wsMessage{Action: "subscribe"})
	if !f.allows("pmtiles") {
		t.Error("empty source subscribes to everything")
	}

	f.apply(wsMessage{Action: "unsubscribe"})
	if f.allows("pmtiles") {
		t.Error("empty unsubscribe stops the feed")
	}

	if status, ok := f.apply(wsMessage{Action: "pause"}); ok || status == "" {
		t.Errorf("unknown action accepted: %q", status)
	}
}
