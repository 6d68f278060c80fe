package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelsweep.dev/internal/protocol"
	"voxelsweep.dev/internal/sim/cleaner"
	"voxelsweep.dev/internal/sim/world"
)

type Server struct {
	world    *world.World
	registry *cleaner.Registry
	hub      *Hub
	log      *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, reg *cleaner.Registry, hub *Hub, logger *log.Logger) *Server {
	return &Server{
		world:    w,
		registry: reg,
		hub:      hub,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ownerID, out := s.handshake(conn)
		if out == nil {
			return
		}
		s.hub.add(out)
		defer s.hub.remove(out)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.dispatch(out, msg)
		}

		// Cleanup.
		if ownerID != "" {
			s.world.Leave() <- ownerID
		}
	}
}

func (s *Server) dispatch(out chan []byte, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.sendError(out, protocol.ErrProtoBadRequest, "unparsable message")
		return
	}
	switch base.Type {
	case protocol.TypeCreateJob:
		var m protocol.CreateJobMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.sendError(out, protocol.ErrProtoBadRequest, "bad CREATE_JOB")
			return
		}
		s.handleCreate(out, m)
	case protocol.TypeCancelJob:
		var m protocol.CancelJobMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.sendError(out, protocol.ErrProtoBadRequest, "bad CANCEL_JOB")
			return
		}
		s.handleCancel(out, m)
	case protocol.TypeListJobs:
		var m protocol.ListJobsMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.sendError(out, protocol.ErrProtoBadRequest, "bad LIST_JOBS")
			return
		}
		size := m.PageSize
		if size < 1 {
			size = statusPageSize
		}
		s.sendJSON(out, statusPage(s.registry, m.Page, size))
	default:
		s.sendError(out, protocol.ErrBadRequest, "unexpected type "+base.Type)
	}
}

func (s *Server) handleCreate(out chan []byte, m protocol.CreateJobMsg) {
	if m.OwnerID == "" || m.OwnerName == "" {
		s.sendError(out, protocol.ErrBadRequest, "missing owner")
		return
	}
	j, err := s.registry.Create(m.OwnerID, m.OwnerName, m.World, m.TypeKey, world.Vec3i{X: m.X, Y: m.Y, Z: m.Z})
	switch {
	case errors.Is(err, cleaner.ErrUnknownType):
		s.sendError(out, protocol.ErrUnknownType, m.TypeKey)
	case errors.Is(err, cleaner.ErrWorldNotFound):
		s.sendError(out, protocol.ErrWorldNotFound, m.World)
	case errors.Is(err, cleaner.ErrDuplicateRegion):
		s.sendError(out, protocol.ErrDuplicateRegion, "")
	case err != nil:
		s.sendError(out, protocol.ErrInternal, "")
	default:
		sum := j.Summary()
		s.sendJSON(out, protocol.ProgressMsg{
			Type:            protocol.TypeProgress,
			ProtocolVersion: protocol.Version,
			JobID:           sum.ID,
			Percent:         sum.Percent,
			ETASeconds:      sum.ETASeconds,
		})
	}
}

func (s *Server) handleCancel(out chan []byte, m protocol.CancelJobMsg) {
	var found bool
	if m.OwnerName != "" {
		found = s.registry.CancelByOwnerName(m.OwnerName)
	} else if m.OwnerID != "" {
		found = s.registry.CancelNear(m.OwnerID, m.World, m.X, m.Z)
	} else {
		s.sendError(out, protocol.ErrBadRequest, "missing owner")
		return
	}
	if !found {
		s.sendError(out, protocol.ErrNotFound, "no matching job")
	}
}

func (s *Server) handshake(conn *websocket.Conn) (ownerID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	out = make(chan []byte, 16)

	// An owner id attaches the session to the world so jobs can reach
	// their owner; without one the client is a pure observer.
	if hello.OwnerID != "" {
		resp := make(chan *world.Session, 1)
		s.world.Join() <- world.JoinRequest{
			OwnerID: hello.OwnerID,
			Name:    hello.OwnerName,
			Out:     out,
			Resp:    resp,
		}
		<-resp
		ownerID = hello.OwnerID
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		WorldID:         s.world.ID(),
		TickRateHz:      s.world.TickRateHz(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	if err := writeJSON(conn, statusPage(s.registry, 1, statusPageSize)); err != nil {
		return "", nil
	}
	return ownerID, out
}

func (s *Server) sendError(out chan []byte, code, detail string) {
	s.sendJSON(out, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Detail:          detail,
	})
}

func (s *Server) sendJSON(out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		if s.log != nil {
			s.log.Printf("ws: marshal: %v", err)
		}
		return
	}
	sendLatest(out, b)
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
