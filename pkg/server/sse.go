package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NexeraDigital/get-shit-done/pkg/ipc"
)

// sseBurst is how many recent events a new subscriber receives up front.
const sseBurst = 100

// sseHeartbeatInterval paces the comment lines that keep intermediaries from
// closing an idle stream.
const sseHeartbeatInterval = 15 * time.Second

// sseBuffer bounds the per-subscriber live queue. A subscriber that falls
// this far behind loses events; it can reconnect and catch up from the burst.
const sseBuffer = 256

// eventsHandler serves GET /api/events as a long-lived SSE stream: a burst of
// recent events first, then live events as they are written, in seq order.
func (s *Server) eventsHandler(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	// Subscribe before the burst so no event falls between the two; the
	// overlap is deduplicated by seq below.
	live := make(chan ipc.Event, sseBuffer)
	unsubscribe := s.events.Subscribe(func(e ipc.Event) {
		select {
		case live <- e:
		default:
		}
	})
	defer unsubscribe()

	var lastSeq int64
	for _, e := range s.events.Recent(sseBurst) {
		writeSSE(c.Writer, e)
		lastSeq = e.Seq
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-live:
			if e.Seq <= lastSeq {
				continue
			}
			writeSSE(c.Writer, e)
			lastSeq = e.Seq
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, e ipc.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Event, data)
}
