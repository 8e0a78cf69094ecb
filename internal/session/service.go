package session

import "context"

// Service gates a Session behind an enablement check. While disabled it does
// nothing at all; once enabled it builds the Session on the first Pump.
type Service struct {
	Enabled func() bool
	Build   func() (*Session, error)

	session *Session
	err     error
}

func (s *Service) enabled() bool {
	return s.Enabled != nil && s.Enabled()
}

// Pump builds the Session if needed and pumps it once. A construction error is
// returned on every call until Reset.
func (s *Service) Pump(ctx context.Context) error {
	if !s.enabled() {
		return nil
	}
	if s.err != nil {
		return s.err
	}
	if s.session == nil {
		sess, err := s.Build()
		if err != nil {
			s.err = err
			return err
		}
		s.session = sess
	}
	s.session.Pump(ctx)
	return nil
}

// Session returns the live Session. It reports false while disabled or before
// the first successful build.
func (s *Service) Session() (*Session, bool) {
	if !s.enabled() || s.session == nil {
		return nil, false
	}
	return s.session, true
}

// Reset resets the Session, if any, and forgets a construction error so the
// next Pump tries to build again.
func (s *Service) Reset() {
	if s.session != nil {
		s.session.Reset()
	}
	s.err = nil
}

// Close closes and discards the Session.
func (s *Service) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}
