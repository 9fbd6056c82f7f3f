package ntag424

// Session holds the encryption and MAC keys for an authenticated EV2-First
// session, and the bookkeeping needed to keep CmdCtr strictly sequential.
//
// A Session is owned by exactly one logical flow. CmdCtr must only be
// mutated through bump/invalidate; commands borrow the session for the
// duration of one round trip via markInFlight/clearInFlight.
type Session struct {
	kenc   [16]byte
	kmac   [16]byte
	ti     [4]byte
	cmdCtr uint16

	authenticatedKeyNo byte
	invalid            bool
	inFlight           bool
}

// KeyNo returns the key slot this session authenticated against.
func (s *Session) KeyNo() byte { return s.authenticatedKeyNo }

// Valid reports whether the session can still be used to emit frames.
func (s *Session) Valid() bool { return s != nil && !s.invalid }

// CmdCtr returns the current command counter value.
func (s *Session) CmdCtr() uint16 { return s.cmdCtr }

// markInFlight flags that a wrapped command has been sent and its response
// has not yet been verified. Issuing a second wrapped command while one is
// in flight is a programming error.
func (s *Session) markInFlight() error {
	if s.inFlight {
		return &ConfigError{Detail: "wrapped command already in flight on this session"}
	}
	s.inFlight = true
	return nil
}

func (s *Session) clearInFlight() {
	s.inFlight = false
}

// bump advances CmdCtr by one after a fully verified round trip. Overflow
// is protocol-fatal: the session is invalidated and must not be reused.
func (s *Session) bump() error {
	if s.cmdCtr == 0xFFFF {
		s.invalidate()
		return &IntegrityError{Op: "bump", Detail: "command counter overflow"}
	}
	s.cmdCtr++
	return nil
}

// invalidate zeroises the session key material and marks the session dead.
// Once invalidated the wrapper refuses to emit further frames on it.
func (s *Session) invalidate() {
	for i := range s.kenc {
		s.kenc[i] = 0
	}
	for i := range s.kmac {
		s.kmac[i] = 0
	}
	s.invalid = true
}
