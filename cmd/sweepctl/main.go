package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"voxelsweep.dev/internal/protocol"
)

// sweepctl is a small control client for the status feed: place a
// cleaner, cancel one, or sit and watch progress.
func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		ownerID = flag.String("owner_id", "", "acting owner id")
		owner   = flag.String("owner", "", "acting owner display name")

		create  = flag.String("create", "", "create a job of this type at -x/-y/-z")
		cancel  = flag.Bool("cancel", false, "cancel the owner's job at -x/-z")
		worldID = flag.String("world", "world_1", "world id")
		x       = flag.Int("x", 0, "block x")
		y       = flag.Int("y", 64, "block y")
		z       = flag.Int("z", 0, "block z")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[sweepctl] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "sweepctl",
		OwnerID:         *ownerID,
		OwnerName:       *owner,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	switch {
	case *create != "":
		msg := protocol.CreateJobMsg{
			Type:            protocol.TypeCreateJob,
			ProtocolVersion: protocol.Version,
			OwnerID:         *ownerID,
			OwnerName:       *owner,
			World:           *worldID,
			TypeKey:         *create,
			X:               *x,
			Y:               *y,
			Z:               *z,
		}
		if err := conn.WriteJSON(msg); err != nil {
			logger.Fatalf("send CREATE_JOB: %v", err)
		}
	case *cancel:
		msg := protocol.CancelJobMsg{
			Type:            protocol.TypeCancelJob,
			ProtocolVersion: protocol.Version,
			OwnerID:         *ownerID,
			World:           *worldID,
			X:               *x,
			Z:               *z,
		}
		if err := conn.WriteJSON(msg); err != nil {
			logger.Fatalf("send CANCEL_JOB: %v", err)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
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
			logger.Printf("WELCOME world=%s tick_rate=%d", w.WorldID, w.TickRateHz)

		case protocol.TypeStatus:
			var s protocol.StatusMsg
			if err := json.Unmarshal(msg, &s); err != nil {
				continue
			}
			for _, j := range s.Jobs {
				logger.Printf("job %s owner=%s type=%s chunk=(%d,%d) %.1f%% eta=%s",
					shortID(j.ID), j.OwnerName, j.TypeKey, j.ChunkX, j.ChunkZ, j.Percent, etaString(j.ETASeconds))
			}

		case protocol.TypeProgress:
			var p protocol.ProgressMsg
			if err := json.Unmarshal(msg, &p); err != nil {
				continue
			}
			logger.Printf("progress %s %.1f%% eta=%s", shortID(p.JobID), p.Percent, etaString(p.ETASeconds))

		case protocol.TypeJobDone:
			var d protocol.JobDoneMsg
			if err := json.Unmarshal(msg, &d); err != nil {
				continue
			}
			logger.Printf("done %s owner=%s", shortID(d.JobID), d.OwnerName)

		case protocol.TypeJobCancelled:
			var d protocol.JobDoneMsg
			if err := json.Unmarshal(msg, &d); err != nil {
				continue
			}
			logger.Printf("cancelled %s owner=%s", shortID(d.JobID), d.OwnerName)

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("error %s %s", e.Code, e.Detail)
		}
	}
}

func etaString(s int64) string {
	return (time.Duration(s) * time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
