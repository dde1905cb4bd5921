package devserver

// SessionCount returns the number of issued keys that have not been read
// back as expired.
func (s *Server) SessionCount() int {
	s.sessions.mu.RLock()
	defer s.sessions.mu.RUnlock()
	return len(s.sessions.data)
}
