package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"gadgetgrid/internal/protocol"
	"gadgetgrid/internal/session"
	"gadgetgrid/internal/sim/catalogs"
	"gadgetgrid/internal/sim/tuning"
)

type Server struct {
	sess *session.Session
	cats *catalogs.Catalogs
	tune tuning.Tuning
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(sess *session.Session, cats *catalogs.Catalogs, tune tuning.Tuning, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		sess: sess,
		cats: cats,
		tune: tune,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// outMsg is either a state (deduplicated by step unless force is set) or a
// pre-encoded message.
type outMsg struct {
	state *protocol.StateMsg
	force bool
	raw   []byte
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, ok := s.handshake(conn)
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		updates, unsubscribe := s.sess.Subscribe()
		defer unsubscribe()
		out := make(chan outMsg, 16)

		// Writer goroutine.
		go func() {
			var lastStep uint64
			sentAny := false
			for {
				var m outMsg
				select {
				case <-ctx.Done():
					return
				case st := <-updates:
					m = outMsg{state: &st}
				case m = <-out:
				}
				if m.state != nil {
					// Replies and broadcasts race; each step goes out once.
					if sentAny && m.state.Step <= lastStep && !m.force {
						continue
					}
					sentAny = true
					if m.state.Step > lastStep {
						lastStep = m.state.Step
					}
					b, err := json.Marshal(m.state)
					if err != nil {
						s.log.Printf("ws %s: marshal state: %v", sessionID, err)
						continue
					}
					m.raw = b
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, m.raw); err != nil {
					cancel()
					return
				}
			}
		}()

		lim := rate.NewLimiter(rate.Limit(s.tune.RateLimits.InputsPerSecond), s.tune.RateLimits.InputBurst)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			reply, err := s.dispatch(ctx, lim, msg)
			if errors.Is(err, context.Canceled) {
				break
			}
			select {
			case out <- reply:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
	}
}

// dispatch decodes one client message and runs it against the session. The
// returned message is always sent back, errors included.
func (s *Server) dispatch(ctx context.Context, lim *rate.Limiter, msg []byte) (outMsg, error) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errorOut(0, protocol.ErrProtoBadRequest, "malformed json"), nil
	}
	if base.ProtocolVersion != s.tune.ProtocolVersion {
		return errorOut(base.Seq, protocol.ErrProtoVersion, fmt.Sprintf("protocol_version %q", base.ProtocolVersion)), nil
	}
	if !lim.Allow() {
		return errorOut(base.Seq, protocol.ErrRateLimit, "too many messages"), nil
	}

	var cmd session.Command
	switch base.Type {
	case protocol.TypeInput:
		var m protocol.InputMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorOut(base.Seq, protocol.ErrProtoBadRequest, err.Error()), nil
		}
		cmd = session.Command{Kind: protocol.TypeInput, Dir: m.Dir}
	case protocol.TypeEdit:
		var m protocol.EditMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorOut(base.Seq, protocol.ErrProtoBadRequest, err.Error()), nil
		}
		cmd = session.Command{
			Kind:   protocol.TypeEdit,
			Op:     m.Op,
			Preset: m.Preset,
			Pos:    m.Pos,
			Turns:  m.Turns,
			Facing: m.Facing,
			Size:   m.Size,
			To:     m.To,
			FlipX:  m.FlipX,
			FlipY:  m.FlipY,
			Center: m.Center,
		}
	case protocol.TypeUndo, protocol.TypeRedo:
		cmd = session.Command{Kind: base.Type}
	case protocol.TypeSave:
		st, err := s.sess.Save(ctx, base.Seq)
		m, err := stateOrError(base.Seq, st, err)
		m.force = true
		return m, err
	default:
		return errorOut(base.Seq, protocol.ErrProtoBadRequest, fmt.Sprintf("unexpected %q", base.Type)), nil
	}
	st, err := s.sess.Submit(ctx, base.Seq, cmd)
	return stateOrError(base.Seq, st, err)
}

func stateOrError(seq uint64, st protocol.StateMsg, err error) (outMsg, error) {
	if err == nil {
		return outMsg{state: &st}, nil
	}
	var ce *session.CommandError
	if errors.As(err, &ce) {
		return errorOut(seq, ce.Code, ce.Message), nil
	}
	if errors.Is(err, context.Canceled) {
		return outMsg{}, err
	}
	return errorOut(seq, protocol.ErrInternal, err.Error()), nil
}

func errorOut(seq uint64, code, message string) outMsg {
	b, _ := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		Code:            code,
		Message:         message,
	})
	return outMsg{raw: b}
}

func (s *Server) handshake(conn *websocket.Conn) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", false
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", false
	}
	if hello.ProtocolVersion != s.tune.ProtocolVersion && !slices.Contains(hello.SupportedVersions, s.tune.ProtocolVersion) {
		e := errorOut(0, protocol.ErrProtoVersion, fmt.Sprintf("server speaks %s", s.tune.ProtocolVersion))
		_ = writeRaw(conn, e.raw)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", false
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	tuneDigest, err := s.tune.Digest()
	if err != nil {
		s.log.Printf("ws: %v", err)
		e := errorOut(0, protocol.ErrInternal, "tuning unavailable")
		_ = writeRaw(conn, e.raw)
		return "", false
	}

	sessionID := fmt.Sprintf("C%d", s.nextID.Add(1))
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: s.tune.ProtocolVersion,
		SessionID:       sessionID,
		PuzzleID:        s.sess.PuzzleID(),
		Catalog: protocol.CatalogDigests{
			GadgetsDigest: s.cats.Gadgets.Digest,
			Presets:       s.cats.Gadgets.Names(),
			TuningDigest:  tuneDigest,
		},
		Limits: protocol.Limits{
			InputsPerSecond: s.tune.RateLimits.InputsPerSecond,
			InputBurst:      s.tune.RateLimits.InputBurst,
		},
	}
	b, err := json.Marshal(welcome)
	if err != nil {
		return "", false
	}
	if err := writeRaw(conn, b); err != nil {
		return "", false
	}
	s.log.Printf("ws %s: %s joined %s", sessionID, hello.ClientName, s.sess.PuzzleID())
	return sessionID, true
}

func writeRaw(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
