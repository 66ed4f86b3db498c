// Package lib holds the optional places a download is reported to besides
// the in-process counter: a sqlite history and a redis event channel.
package lib

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// DownloadEvent describes one started download response.
type DownloadEvent struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`  // "file" or "zip"
	Route  string    `json:"route"` // "/download" or "/served"
	Path   string    `json:"path"`  // file actually streamed
	Source string    `json:"source,omitempty"`
	Remote string    `json:"remote"`
	Size   int64     `json:"size"`
	Count  int64     `json:"count"` // counter value after this download
	At     time.Time `json:"at"`
}

// NewDownloadEvent fills ID and At.
func NewDownloadEvent(kind, route, path string) DownloadEvent {
	return DownloadEvent{
		ID:    uuid.NewString(),
		Kind:  kind,
		Route: route,
		Path:  path,
		At:    time.Now(),
	}
}

// Sink receives download events.
type Sink interface {
	Record(DownloadEvent) error
}

// Sinks fans an event out to every sink. A failing sink is logged and does
// not stop the others.
type Sinks []Sink

// Record implements Sink.
func (s Sinks) Record(e DownloadEvent) error {
	for _, v := range s {
		if v == nil {
			continue
		}
		if err := v.Record(e); err != nil {
			log.Printf("download sink %T: %v", v, err)
		}
	}
	return nil
}
