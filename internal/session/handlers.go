package session

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/omochice/imclink/internal/dispatch"
	"github.com/omochice/imclink/internal/ucache"
	"github.com/omochice/imclink/pkg/protocol"
)

func (s *Session) routes() []dispatch.Route {
	return []dispatch.Route{
		{Type: protocol.TypeKeepaliveRequest, Handler: s.handleKeepaliveRequest},
		{Type: protocol.TypeIsAlive, Handler: s.handleIsAlive},
		{Type: protocol.TypeCloseNotify, Handler: s.handleCloseNotify},
		{Type: protocol.TypeChannelMessage, Handler: s.handleChannelMessage},
		{Type: protocol.TypeTell, Handler: s.handleTell},
		{Type: protocol.TypeUserCache, Handler: s.handleUserCache},
	}
}

// handleKeepaliveRequest answers with is-alive, except to our own broadcast
// echoed back by the router.
func (s *Session) handleKeepaliveRequest(f protocol.Frame) {
	if strings.EqualFold(protocol.Mud(f.Source), s.cfg.LocalName) {
		return
	}
	s.Send(protocol.IsAlive(s.cfg.LocalName, s.version))
}

func (s *Session) handleIsAlive(f protocol.Frame) {
	s.log.Debug("mud is alive", zap.String("mud", protocol.Mud(f.Source)), zap.String("info", f.Message))
}

func (s *Session) handleCloseNotify(f protocol.Frame) {
	mud := f.Message
	if mud == "" {
		mud = protocol.Mud(f.Source)
	}
	s.log.Info("mud disconnected from network", zap.String("mud", mud))
}

// handleChannelMessage records a broadcast channel message. The target token
// names the channel.
func (s *Session) handleChannelMessage(f protocol.Frame) {
	now := s.now()
	s.users.Touch(f.Source, ucache.UnknownSex, now)
	if s.cfg.Subscribed(f.Target) {
		s.history.Add(f.Target, f.Source, f.Message, now)
	}
	s.deliver(f)
}

func (s *Session) handleTell(f protocol.Frame) {
	s.users.Touch(f.Source, ucache.UnknownSex, s.now())
	s.deliver(f)
}

// handleUserCache updates the sex code of the announced user from a
// "gender=<n>" field in the message.
func (s *Session) handleUserCache(f protocol.Frame) {
	sex := ucache.UnknownSex
	for _, field := range strings.Fields(f.Message) {
		k, v, ok := strings.Cut(field, "=")
		if !ok || !strings.EqualFold(k, "gender") {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			sex = n
		}
	}
	s.users.Touch(f.Source, sex, s.now())
}

func (s *Session) deliver(f protocol.Frame) {
	if s.onMessage != nil {
		s.onMessage(f)
	}
}
