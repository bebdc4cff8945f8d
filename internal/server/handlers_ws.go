package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/machioali/LanguageHelp-sub000/internal/domain"
	"github.com/machioali/LanguageHelp-sub000/internal/errors"
	"github.com/machioali/LanguageHelp-sub000/internal/metrics"
)

func (s *Server) handleClientWS(c echo.Context) error {
	clientID := strings.TrimSpace(c.QueryParam("clientId"))
	if clientID == "" {
		return errors.ValidationError("clientId query parameter is required")
	}
	return s.serveSocket(c, domain.RoleClient, clientID)
}

func (s *Server) handleInterpreterWS(c echo.Context) error {
	interpreterID := strings.TrimSpace(c.QueryParam("interpreterId"))
	if interpreterID == "" {
		return errors.ValidationError("interpreterId query parameter is required")
	}
	return s.serveSocket(c, domain.RoleInterpreter, interpreterID)
}

// serveSocket upgrades the connection and runs the read pump until the
// socket drops. The pump goroutine is this handler; writes happen on the
// connWriter goroutine.
func (s *Server) serveSocket(c echo.Context, role domain.Role, participantID string) error {
	ip := c.RealIP()
	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.WebSocketRejectionsTotal.Inc()
		slog.Warn("Websocket rejected by connection limiter", "ip", ip, "reason", string(reason))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "connection limit reached")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.limits.Release(ip)
		return nil // upgrader already wrote the response
	}

	cw := newConnWriter(conn, s.clock)
	s.hub.Register(role, participantID, cw)

	defer func() {
		s.hub.Unregister(role, participantID, cw)
		s.limits.Release(ip)
		cw.stop()
		s.handleSocketDrop(role, participantID)
	}()

	// A participant with a live session gets rebound to it immediately.
	s.rejoinSession(role, participantID, cw)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		s.handleFrame(role, participantID, cw, data)
	}
}

// rejoinSession rebinds a reconnecting participant to their live session.
// Singleflight collapses racing reconnects for the same participant.
func (s *Server) rejoinSession(role domain.Role, participantID string, cw *connWriter) {
	key := string(role) + ":" + participantID
	_, _, _ = s.rejoinGroup.Do(key, func() (any, error) {
		sessionID, ok := s.sessions.SessionFor(participantID, role)
		if !ok {
			return nil, nil
		}
		if err := s.relay.Join(sessionID, role, cw); err != nil {
			s.sendError(cw, err)
		}
		return nil, nil
	})
}

// handleSocketDrop runs after the read pump exits. An in-session participant
// enters the grace path; an idle interpreter just goes offline. When a newer
// socket already replaced this one, the relay binding is handed off to it
// instead - relay commands are FIFO, so the leave lands before the rejoin.
func (s *Server) handleSocketDrop(role domain.Role, participantID string) {
	newer, replaced := s.hub.Sink(role, participantID)

	if sessionID, ok := s.sessions.SessionFor(participantID, role); ok {
		s.relay.Leave(sessionID, role, "disconnect")
		if replaced {
			s.rejoinSession(role, participantID, newer)
		}
		return
	}
	if replaced {
		return
	}
	if role == domain.RoleInterpreter {
		s.registry.MarkDisconnected(context.Background(), participantID)
	}
}

func (s *Server) handleFrame(role domain.Role, participantID string, cw *connWriter, data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError(cw, errors.ValidationError("malformed frame"))
		return
	}

	if role == domain.RoleClient {
		s.handleClientFrame(participantID, cw, env)
	} else {
		s.handleInterpreterFrame(participantID, cw, env)
	}
}

func (s *Server) handleClientFrame(clientID string, cw *connWriter, env inboundEnvelope) {
	ctx := context.Background()

	switch env.Type {
	case msgRequestInterpreter:
		var p requestInterpreterPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.sendError(cw, errors.ValidationError("malformed request-interpreter payload"))
			return
		}
		req, err := s.dispatcher.Submit(ctx, clientID, p.ClientName, p.Language, p.SessionType, p.Urgency)
		if err != nil {
			s.sendError(cw, err)
			return
		}
		s.sendEvent(cw, domain.EventRequestSubmitted, domain.RequestSubmitted{RequestID: req.ID})

	case msgCancelRequest:
		if err := s.dispatcher.Cancel(clientID); err != nil {
			s.sendError(cw, err)
		}

	case msgWebRTCOffer, msgWebRTCAnswer, msgWebRTCICECandidate, msgChat:
		s.relaySignal(domain.RoleClient, cw, env)

	case msgConferenceJoined:
		s.sessions.ConfirmReady(env.SessionID, domain.RoleClient)

	case msgEndSession:
		if err := s.sessions.End(env.SessionID, domain.RoleClient, domain.EndReasonPeerEnded); err != nil {
			s.sendError(cw, err)
		}

	default:
		s.sendError(cw, errors.ValidationError("unknown frame type").WithContext("frame_type", env.Type))
	}
}

func (s *Server) handleInterpreterFrame(interpreterID string, cw *connWriter, env inboundEnvelope) {
	ctx := context.Background()

	switch env.Type {
	case msgRegisterInterpreter:
		var p registerInterpreterPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.sendError(cw, errors.ValidationError("malformed register-interpreter payload"))
			return
		}
		status := p.Status
		if status == "" {
			status = domain.StatusAvailable
		}
		if err := s.registry.Register(ctx, interpreterID, p.Name, p.Languages, status); err != nil {
			s.sendError(cw, err)
		}

	case msgUpdateAvailability:
		var p updateAvailabilityPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.sendError(cw, errors.ValidationError("malformed update-availability payload"))
			return
		}
		if err := s.registry.UpdateStatus(ctx, interpreterID, p.Status); err != nil {
			s.sendError(cw, err)
		}

	case msgHeartbeat:
		if err := s.registry.Heartbeat(ctx, interpreterID); err != nil {
			s.sendError(cw, err)
		}

	case msgAcceptCall:
		var p acceptCallPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.sendError(cw, errors.ValidationError("malformed accept-call payload"))
			return
		}
		s.acceptCall(ctx, interpreterID, cw, p.RequestID)

	case msgDeclineCall:
		var p declineCallPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.sendError(cw, errors.ValidationError("malformed decline-call payload"))
			return
		}
		if err := s.dispatcher.Decline(interpreterID, p.RequestID); err != nil {
			s.sendError(cw, err)
		}

	case msgWebRTCOffer, msgWebRTCAnswer, msgWebRTCICECandidate, msgChat:
		s.relaySignal(domain.RoleInterpreter, cw, env)

	case msgConferenceJoined:
		s.sessions.ConfirmReady(env.SessionID, domain.RoleInterpreter)

	case msgEndSession:
		if err := s.sessions.End(env.SessionID, domain.RoleInterpreter, domain.EndReasonPeerEnded); err != nil {
			s.sendError(cw, err)
		}

	default:
		s.sendError(cw, errors.ValidationError("unknown frame type").WithContext("frame_type", env.Type))
	}
}

// acceptCall resolves the arbitration and, on a win, binds both live
// connections to the relay so the handshake can start.
func (s *Server) acceptCall(ctx context.Context, interpreterID string, cw *connWriter, requestID uuid.UUID) {
	sess, err := s.dispatcher.Accept(ctx, interpreterID, requestID)
	if err != nil {
		s.sendError(cw, err)
		return
	}

	s.sendEvent(cw, domain.EventCallAccepted, domain.CallAccepted{
		SessionID:  sess.ID,
		ClientID:   sess.ClientID,
		ClientName: sess.ClientName,
		Language:   sess.Language,
	})

	if err := s.relay.Join(sess.ID, domain.RoleInterpreter, cw); err != nil {
		s.sendError(cw, err)
	}
	if clientSink, ok := s.hub.Sink(domain.RoleClient, sess.ClientID); ok {
		if err := s.relay.Join(sess.ID, domain.RoleClient, clientSink); err != nil {
			slog.Warn("Failed to bind client connection to new session",
				"session_id", sess.ID.String(), "client_id", sess.ClientID, "error", err)
		}
	}
}

func (s *Server) relaySignal(role domain.Role, cw *connWriter, env inboundEnvelope) {
	if env.SessionID == uuid.Nil {
		s.sendError(cw, errors.ValidationError("sessionId is required"))
		return
	}

	kind, ok := signalKindFor(env.Type)
	if !ok {
		s.sendError(cw, errors.ValidationError("unknown signaling frame type"))
		return
	}

	if kind == domain.SignalChat {
		var p chatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Message == "" {
			s.sendError(cw, errors.ValidationError("chat message must not be empty"))
			return
		}
	}

	err := s.relay.Relay(domain.SignalingMessage{
		Kind:       kind,
		SessionID:  env.SessionID,
		SenderRole: role,
		Payload:    env.Payload,
	})
	if err != nil {
		s.sendError(cw, err)
	}
}

func (s *Server) sendEvent(cw *connWriter, event string, payload any) {
	data, err := json.Marshal(outboundEnvelope{Type: event, Payload: payload})
	if err != nil {
		slog.Error("Failed to marshal event", "event", event, "error", err)
		return
	}
	cw.Send(data)
}

// sendError reports a failure back to the frame's sender only. The other
// party's state is never touched by a validation or conflict error.
func (s *Server) sendError(cw *connWriter, err error) {
	structured := errors.AsStructuredError(err)
	s.sendEvent(cw, "error", structured.ToResponse())
}
