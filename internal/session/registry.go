package session

// Registry tracks every currently-known session by link name. Like
// broker.Registry, it is only ever touched from the single dispatch
// goroutine and holds no internal lock.
type Registry struct {
	byName map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Session)}
}

// Add registers a session under its link name, replacing any existing
// entry of the same name (a reconnecting responder reuses its
// downstream node but gets a fresh Session value for the new connection).
func (r *Registry) Add(s *Session) {
	r.byName[s.Name] = s
}

// Get returns the session for name, if any.
func (r *Registry) Get(name string) (*Session, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Remove deletes the session for name.
func (r *Registry) Remove(name string) {
	delete(r.byName, name)
}

// All returns every currently-registered session. The returned slice is
// a snapshot; mutating the registry afterward does not affect it.
func (r *Registry) All() []*Session {
	out := make([]*Session, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s)
	}
	return out
}
