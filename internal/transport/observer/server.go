// Package observer streams the field to read-only spectators.
package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gadgetgrid/internal/observerproto"
	"gadgetgrid/internal/protocol"
	"gadgetgrid/internal/sim/catalogs"
)

// Source is the part of a session spectators read from.
type Source interface {
	PuzzleID() string
	Latest() protocol.StateMsg
	Subscribe() (<-chan protocol.StateMsg, func())
}

type Server struct {
	src  Source
	cats *catalogs.Catalogs
	log  *log.Logger

	upgrader websocket.Upgrader
	watching atomic.Int64
}

func NewServer(src Source, cats *catalogs.Catalogs, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		src:  src,
		cats: cats,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Watching reports how many spectators are connected.
func (s *Server) Watching() int { return int(s.watching.Load()) }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		st := s.src.Latest()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			PuzzleID:        s.src.PuzzleID(),
			Step:            st.Step,
			Gadgets:         len(st.Gadgets),
			HasAgent:        st.Agent != nil,
			Presets:         s.cats.Gadgets.Names(),
			GadgetsDigest:   s.cats.Gadgets.Digest,
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		s.watching.Add(1)
		defer s.watching.Add(-1)

		updates, unsubscribe := s.src.Subscribe()
		defer unsubscribe()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			var lastStep uint64
			sentAny := false
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case st := <-updates:
					if sentAny && st.Step <= lastStep {
						continue
					}
					sentAny = true
					lastStep = st.Step
					if sub.OmitPaths {
						st = withoutPaths(st)
					}
					b, err := json.Marshal(st)
					if err != nil {
						s.log.Printf("observer: marshal state: %v", err)
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Spectators only send close frames; anything else is ignored.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// withoutPaths copies the gadget slice so the shared message is untouched.
func withoutPaths(st protocol.StateMsg) protocol.StateMsg {
	gs := make([]protocol.GadgetState, len(st.Gadgets))
	copy(gs, st.Gadgets)
	for i := range gs {
		gs[i].Paths = [][2]int{}
	}
	st.Gadgets = gs
	return st
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
