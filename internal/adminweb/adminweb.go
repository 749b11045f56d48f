// Package adminweb exposes debug-only HTTP routes for a running daemon:
// a live fix tail (SSE), hunt-loop status, and PPS jitter/rejection
// stats — the Tailscale-gated admin surface, not the client-facing
// protocol spec.md explicitly excludes.
package adminweb

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/gnssd/internal/fix"
	"github.com/banshee-data/gnssd/internal/pps"
	"github.com/banshee-data/gnssd/internal/session"
	"github.com/banshee-data/gnssd/internal/units"
)

// fixJSON is a JSON-safe view of fix.Fix: encoding/json rejects NaN, the
// sentinel Fix uses for "field not provided", so unset fields become a
// nil pointer instead.
type fixJSON struct {
	Time   string   `json:"time"`
	Mode   int      `json:"mode"`
	Status int      `json:"status"`
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
	AltHAE *float64 `json:"alt_hae,omitempty"`
	AltMSL *float64 `json:"alt_msl,omitempty"`
	Speed  *float64 `json:"speed,omitempty"`
	Track  *float64 `json:"track,omitempty"`
	Climb  *float64 `json:"climb,omitempty"`
}

func nanToPtr(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func toFixJSON(f fix.Fix) fixJSON {
	return fixJSON{
		Time:   f.Time.String(),
		Mode:   int(f.Mode),
		Status: int(f.Status),
		Lat:    nanToPtr(f.Lat),
		Lon:    nanToPtr(f.Lon),
		AltHAE: nanToPtr(f.AltHAE),
		AltMSL: nanToPtr(f.AltMSL),
		Speed:  nanToPtr(f.Speed),
		Track:  nanToPtr(f.Track),
		Climb:  nanToPtr(f.Climb),
	}
}

// FixTail fans out fix snapshots to any number of SSE subscribers,
// mirroring the teacher's subscriber-map broadcast pattern.
type FixTail struct {
	mu          sync.Mutex
	subscribers map[int]chan fix.Fix
	nextID      int
	closing     bool
}

// NewFixTail returns an empty FixTail ready to Publish/Subscribe.
func NewFixTail() *FixTail {
	return &FixTail{subscribers: make(map[int]chan fix.Fix)}
}

// Publish broadcasts f to every current subscriber, dropping it for any
// subscriber whose channel is full rather than blocking the caller.
func (f *FixTail) Publish(fx fix.Fix) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closing {
		return
	}
	for _, ch := range f.subscribers {
		select {
		case ch <- fx:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
func (f *FixTail) Subscribe() (int, chan fix.Fix) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan fix.Fix, 16)
	f.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (f *FixTail) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

// Close shuts down every subscriber channel.
func (f *FixTail) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closing = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}

// SessionProvider is the narrow view adminweb needs onto a running
// session, satisfied by *session.Session.
type SessionProvider interface {
	Status() session.Status
	LastFix() fix.Fix
	LastSkyview() fix.Skyview
}

// PPSProvider is the narrow view adminweb needs onto a running PPS
// thread, satisfied by *pps.Thread.
type PPSProvider interface {
	Stats() pps.Stats
}

// AttachRoutes mounts the debug-only GNSS diagnostic routes under mux's
// tsweb debugger, matching the shape of the teacher's
// SerialMux.AttachAdminRoutes. speedUnits selects the display unit for
// the fix route's speed_display field (mps, mph, kmph, or kph); an
// invalid value falls back to m/s, same as units.ConvertSpeed.
func AttachRoutes(mux *http.ServeMux, sess SessionProvider, ppsThread PPSProvider, tail *FixTail, speedUnits string) {
	debug := tsweb.Debugger(mux)

	debug.Handle("hunt-status", "Current hunt-loop lock state", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sess.Status()); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode status: %v", err), http.StatusInternalServerError)
		}
	}))

	debug.Handle("fix", "Most recent decoded fix and skyview (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		sky := sess.LastSkyview()
		fx := sess.LastFix()
		payload := struct {
			Fix          fixJSON  `json:"fix"`
			SkyviewCount int      `json:"skyview_count"`
			SkyviewUsed  int      `json:"skyview_used"`
			SpeedDisplay *float64 `json:"speed_display,omitempty"`
			SpeedUnits   string   `json:"speed_units"`
		}{toFixJSON(fx), sky.Count, sky.Used(), speedDisplay(fx.Speed, speedUnits), speedUnits}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode fix: %v", err), http.StatusInternalServerError)
		}
	}))

	if ppsThread != nil {
		debug.Handle("pps-stats", "PPS publication count, rejection streak, jitter variance", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(ppsThread.Stats()); err != nil {
				http.Error(w, fmt.Sprintf("failed to encode pps stats: %v", err), http.StatusInternalServerError)
			}
		}))
	}

	if tail != nil {
		debug.HandleSilentFunc("fix-tail", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")

			id, c := tail.Subscribe()
			defer tail.Unsubscribe(id)

			io.WriteString(w, ": ping\n\n")
			w.(http.Flusher).Flush()

			for {
				select {
				case fx, ok := <-c:
					if !ok {
						return
					}
					payload, err := json.Marshal(toFixJSON(fx))
					if err != nil {
						continue
					}
					fmt.Fprintf(w, "data: %s\n\n", payload)
					w.(http.Flusher).Flush()
				case <-r.Context().Done():
					return
				}
			}
		})
	}

	debug.Handle("uptime", "Seconds since this handler was registered", uptimeHandler(time.Now()))
}

// speedDisplay converts a fix's speed (m/s) into the requested display
// unit, returning nil for an unset (NaN) speed.
func speedDisplay(speedMPS float64, targetUnits string) *float64 {
	if math.IsNaN(speedMPS) {
		return nil
	}
	v := units.ConvertSpeed(speedMPS, targetUnits)
	return &v
}

func uptimeHandler(start time.Time) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			UptimeSeconds float64 `json:"uptime_seconds"`
		}{time.Since(start).Seconds()})
	})
}
