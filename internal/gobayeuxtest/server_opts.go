package gobayeuxtest

// ServerOpt configures a Server at construction time.
type ServerOpt interface {
	apply(s *Server)
}

type serverOptFn func(s *Server)

func (opt serverOptFn) apply(s *Server) {
	opt(s)
}

// WithHandshakeError makes every /meta/handshake fail with a 400.
func WithHandshakeError(handshakeError bool) ServerOpt {
	return serverOptFn(func(s *Server) {
		s.handshakeError = handshakeError
	})
}

// WithAuthError makes every /meta/handshake return successful=false with
// an unauthorized error, without rejecting the HTTP request itself.
func WithAuthError(authError bool) ServerOpt {
	return serverOptFn(func(s *Server) {
		s.authError = authError
	})
}

// WithRehandshakeAfter advises reconnect=handshake once a client has
// completed n successful /meta/connect requests, simulating a server
// that periodically expires sessions.
func WithRehandshakeAfter(n int) ServerOpt {
	return serverOptFn(func(s *Server) {
		s.rehandshakeAfter = n
	})
}

// WithStopAfter advises reconnect=none once a client has completed n
// successful /meta/connect requests, simulating a server that is taking
// the client's session down for good (e.g. a server-initiated logout).
func WithStopAfter(n int) ServerOpt {
	return serverOptFn(func(s *Server) {
		s.stopAfter = n
	})
}
