// Package kujo streams simulator snapshots as server-sent events.
package kujo

import (
	"encoding/json"
	"net/http"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	"nyiyui.ca/hato/dassen/notify"
	"nyiyui.ca/hato/dassen/sim"
)

const StreamSnapshot = "snapshot"

type Server struct {
	mux  *notify.Multiplexer[sim.Snapshot]
	s    *sse.Server
	ch   chan sim.Snapshot
	quit chan struct{}
	done chan struct{}
}

func NewServer(mux *notify.Multiplexer[sim.Snapshot]) *Server {
	s := &Server{
		mux:  mux,
		s:    sse.New(),
		ch:   make(chan sim.Snapshot),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.s.AutoReplay = false
	s.s.CreateStream(StreamSnapshot)
	s.mux.Subscribe("kujo", s.ch)
	go s.forward()
	return s
}

func (s *Server) forward() {
	defer close(s.done)
	for {
		var ss sim.Snapshot
		select {
		case <-s.quit:
			return
		case ss = <-s.ch:
		}
		data, err := json.Marshal(ss)
		if err != nil {
			zap.S().Errorw("kujo: marshal snapshot",
				"tick", ss.Tick,
				"err", err)
			continue
		}
		s.s.TryPublish(StreamSnapshot, &sse.Event{
			Data: data,
		})
	}
}

// Close stops forwarding.
// s.ch stays open: sends already in flight in the multiplexer time out instead of hitting a closed channel.
func (s *Server) Close() {
	s.mux.Unsubscribe(s.ch)
	close(s.quit)
	<-s.done
	s.s.RemoveStream(StreamSnapshot)
	s.s.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.s.ServeHTTP(w, r)
}
