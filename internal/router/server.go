package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/chorusrt/chorus/internal/envelope"
	chorerrors "github.com/chorusrt/chorus/internal/errors"
	"github.com/chorusrt/chorus/internal/wire"
	"github.com/google/uuid"
)

// Server binds the router's TCP listener and speaks the wire protocol
// (spec §6.1) to each connected agent client. Agents connect outbound;
// the server never dials out (the router is the only addressable
// endpoint).
type Server struct {
	router *Router
	ln     net.Listener

	connsMu sync.RWMutex
	conns   map[string]*wire.Transport
}

// Listen binds addr, falling back to the next free port if addr's port
// is occupied (spec §6.1: "fallback to the next free port if
// occupied").
func Listen(r *Router, addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		host, portStr, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			return nil, fmt.Errorf("router: listen %s: %w", addr, err)
		}
		port, convErr := strconv.Atoi(portStr)
		if convErr != nil {
			return nil, fmt.Errorf("router: listen %s: %w", addr, err)
		}
		for tries := 0; tries < 100; tries++ {
			port++
			candidate := net.JoinHostPort(host, strconv.Itoa(port))
			ln, err = net.Listen("tcp", candidate)
			if err == nil {
				break
			}
		}
		if err != nil {
			return nil, fmt.Errorf("router: no free port near %s: %w", addr, err)
		}
	}
	return &Server{router: r, ln: ln, conns: make(map[string]*wire.Transport)}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Ping sends a heartbeat frame to agentID's live connection, if any.
// Passed to Router.StartLivenessMonitor as the ping callback.
func (s *Server) Ping(agentID string) {
	s.connsMu.RLock()
	t, ok := s.conns[agentID]
	s.connsMu.RUnlock()
	if !ok {
		return
	}
	frame, _ := wire.EncodePayload(wire.MsgHeartbeat, agentID, uuid.NewString(), nil)
	_ = t.WriteFrame(frame)
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	t := wire.NewTransport(conn)
	defer t.Close()

	agentID, ok := s.handshake(ctx, t)
	if !ok {
		return
	}

	s.connsMu.Lock()
	s.conns[agentID] = t
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		if s.conns[agentID] == t {
			delete(s.conns, agentID)
		}
		s.connsMu.Unlock()
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.writeLoop(connCtx, t, agentID)
	s.readLoop(connCtx, t, agentID)
}

// handshake processes the initial register frame and returns the
// negotiated agent_id, or false if the connection should be closed.
func (s *Server) handshake(ctx context.Context, t *wire.Transport) (string, bool) {
	frame, err := t.ReadFrame()
	if err != nil {
		return "", false
	}
	if frame.MsgType != wire.MsgRegister {
		ack, _ := wire.EncodePayload(wire.MsgRegisterAck, frame.AgentID, frame.MsgID,
			wire.RegisterAckPayload{Accepted: false, Reason: "expected register frame first"})
		t.WriteFrame(ack)
		return "", false
	}

	var payload wire.RegisterPayload
	if err := frame.DecodePayload(&payload); err != nil {
		ack, _ := wire.EncodePayload(wire.MsgRegisterAck, frame.AgentID, frame.MsgID,
			wire.RegisterAckPayload{Accepted: false, Reason: "malformed register payload"})
		t.WriteFrame(ack)
		return "", false
	}

	reg, err := s.router.Register(ctx, frame.AgentID, payload.TeamID, payload.Endpoint)
	if err != nil {
		ack, _ := wire.EncodePayload(wire.MsgRegisterAck, frame.AgentID, frame.MsgID,
			wire.RegisterAckPayload{Accepted: false, Reason: err.Error()})
		t.WriteFrame(ack)
		return "", false
	}

	ack, _ := wire.EncodePayload(wire.MsgRegisterAck, frame.AgentID, frame.MsgID,
		wire.RegisterAckPayload{Accepted: true})
	if err := t.WriteFrame(ack); err != nil {
		return "", false
	}

	if reg.TeamID != "" {
		members := s.router.Registry().TeamMembers(reg.TeamID)
		teamInfo, _ := wire.EncodePayload(wire.MsgTeamInfo, frame.AgentID, uuid.NewString(),
			wire.TeamInfoPayload{TeamID: reg.TeamID, Members: members})
		t.WriteFrame(teamInfo)
	}

	return frame.AgentID, true
}

// readLoop handles inbound frames from an already-registered agent:
// agent_message forwards into Send, heartbeat is acked, stop is acked
// and ends the loop, get_state/dump_state return a log snapshot.
func (s *Server) readLoop(ctx context.Context, t *wire.Transport, agentID string) {
	var lastSeenIndex int
	for {
		frame, err := t.ReadFrame()
		if err != nil {
			s.router.Registry().MarkDisconnected(agentID)
			return
		}

		switch frame.MsgType {
		case wire.MsgAgentMessage:
			var env envelope.Envelope
			if err := frame.DecodePayload(&env); err != nil {
				protoErr := chorerrors.Wrap(err, chorerrors.ErrCodeProtocol, "malformed agent_message payload").
					WithContext("agent_id", agentID)
				s.router.logger.Warn("dropping unparsable agent_message frame", "error", protoErr)
				continue // protocol error: drop frame, continue (spec §7)
			}
			if env.Source == "" {
				env.Source = agentID
			}
			_ = s.router.Send(ctx, &env)

		case wire.MsgHeartbeat:
			// Agent-initiated heartbeat: ack it directly.
			s.router.Heartbeat(agentID)
			ack, _ := wire.EncodePayload(wire.MsgHeartbeatAck, agentID, frame.MsgID, nil)
			_ = t.WriteFrame(ack)

		case wire.MsgHeartbeatAck:
			// Ack to a router-initiated ping (Server.Ping).
			s.router.Heartbeat(agentID)

		case wire.MsgStop:
			s.router.Stop(agentID)
			ack, _ := wire.EncodePayload(wire.MsgStopAck, agentID, frame.MsgID, nil)
			_ = t.WriteFrame(ack)
			return

		case wire.MsgStatusUpdate:
			if reg := s.router.Registry().Get(agentID); reg != nil {
				reg.SetStateSnapshot(frame.Payload)
			}

		case wire.MsgGetState, wire.MsgDumpState:
			envs := s.router.RequestState(agentID, lastSeenIndex)
			lastSeenIndex += len(envs)
			payload, _ := json.Marshal(envs)
			resp := &wire.Frame{MsgType: wire.MsgStateUpdate, AgentID: agentID, MsgID: frame.MsgID, Payload: payload}
			_ = t.WriteFrame(resp)

		default:
			// Unknown msg_type: protocol error, drop and continue.
		}
	}
}

// writeLoop drains agentID's outbound queue onto the wire, in FIFO
// order, draining any backlog accumulated while disconnected before
// resuming live traffic (spec §4.1 "Failure semantics").
func (s *Server) writeLoop(ctx context.Context, t *wire.Transport, agentID string) {
	for {
		env, ok := s.router.PullOutbound(ctx, agentID)
		if !ok {
			return
		}
		payload, err := json.Marshal(env)
		if err != nil {
			continue
		}
		frame := &wire.Frame{MsgType: wire.MsgAgentMessage, AgentID: agentID, MsgID: env.MessageID, Payload: payload}
		if err := t.WriteFrame(frame); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			return
		}
	}
}
