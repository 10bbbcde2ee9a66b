package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"gadgetgrid/internal/protocol"
)

var dirs = [][2]int{{0, 1}, {1, 0}, {0, -1}, {-1, 0}}

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "client name")
		preset = flag.String("preset", "Toggle", "preset placed at the origin on connect (empty: none)")
		agentX = flag.Int("agent_x", 1, "doubled x of the agent placed on connect")
		agentY = flag.Int("agent_y", 0, "doubled y of the agent placed on connect")
		moves  = flag.Int("moves", 0, "stop after this many inputs (0: run until interrupted)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:              protocol.TypeHello,
		ProtocolVersion:   protocol.Version,
		SupportedVersions: []string{protocol.Version},
		ClientName:        *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	msgs := make(chan []byte, 16)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("read: %v", err)
				return
			}
			msgs <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var (
		seq    uint64
		sent   int
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	next := func() uint64 {
		seq++
		return seq
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-stop:
			return

		case <-tick:
			in := protocol.InputMsg{
				Type:            protocol.TypeInput,
				ProtocolVersion: protocol.Version,
				Seq:             next(),
				Dir:             dirs[r.Intn(len(dirs))],
			}
			if err := conn.WriteJSON(in); err != nil {
				logger.Printf("send INPUT: %v", err)
				return
			}
			sent++
			if *moves > 0 && sent >= *moves {
				return
			}

		case msg, ok := <-msgs:
			if !ok {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeWelcome:
				var w protocol.WelcomeMsg
				if err := json.Unmarshal(msg, &w); err != nil {
					continue
				}
				logger.Printf("WELCOME session=%s puzzle=%s presets=%v inputs_per_second=%.1f", w.SessionID, w.PuzzleID, w.Catalog.Presets, w.Limits.InputsPerSecond)
				if err := setup(conn, next, *preset, [2]int{*agentX, *agentY}); err != nil {
					logger.Printf("setup: %v", err)
					return
				}
				ticker = time.NewTicker(inputInterval(w.Limits))
				tick = ticker.C

			case protocol.TypeState:
				var st protocol.StateMsg
				if err := json.Unmarshal(msg, &st); err != nil {
					continue
				}
				if st.Agent != nil {
					logger.Printf("STATE seq=%d step=%d moved=%v agent=%v facing=%v gadgets=%d", st.Seq, st.Step, st.Moved, st.Agent.Pos, st.Agent.Facing, len(st.Gadgets))
				} else {
					logger.Printf("STATE seq=%d step=%d gadgets=%d", st.Seq, st.Step, len(st.Gadgets))
				}

			case protocol.TypeError:
				var e protocol.ErrorMsg
				if err := json.Unmarshal(msg, &e); err != nil {
					continue
				}
				logger.Printf("ERROR seq=%d code=%s %s", e.Seq, e.Code, e.Message)
			}
		}
	}
}

// setup places a preset at the origin and the agent on the given edge facing
// north. Rejections come back as ERROR messages and are only logged.
func setup(conn *websocket.Conn, next func() uint64, preset string, agentPos [2]int) error {
	if preset != "" {
		if err := conn.WriteJSON(protocol.EditMsg{
			Type:            protocol.TypeEdit,
			ProtocolVersion: protocol.Version,
			Seq:             next(),
			Op:              protocol.OpPlace,
			Preset:          preset,
		}); err != nil {
			return err
		}
	}
	return conn.WriteJSON(protocol.EditMsg{
		Type:            protocol.TypeEdit,
		ProtocolVersion: protocol.Version,
		Seq:             next(),
		Op:              protocol.OpAgent,
		Pos:             agentPos,
		Facing:          [2]int{0, 1},
	})
}

// inputInterval paces inputs just under the server's advertised rate.
func inputInterval(l protocol.Limits) time.Duration {
	if l.InputsPerSecond <= 0 {
		return time.Second
	}
	d := time.Duration(float64(time.Second) / l.InputsPerSecond)
	return d + d/10
}
