// Package secrets provides scoped exposure of credentials to child
// processes. Secrets are handed to subprocesses via per-command
// environment slices and never enter the process-global environment;
// the scope's backing storage is wiped on every exit path.
package secrets

// Scope collects name=value entries destined for a child process
// environment. The zero value is ready to use.
type Scope struct {
	entries [][]byte
}

// Set adds a secret entry. Empty values are skipped so optional
// credentials can be passed through unconditionally.
func (s *Scope) Set(name, value string) {
	if value == "" {
		return
	}
	s.entries = append(s.entries, []byte(name+"="+value))
}

// Environ returns the entries in the form expected by exec.Cmd.Env.
func (s *Scope) Environ() []string {
	env := make([]string, len(s.entries))
	for i, e := range s.entries {
		env[i] = string(e)
	}
	return env
}

// Len returns the number of entries held.
func (s *Scope) Len() int {
	return len(s.entries)
}

// Wipe zeroes and drops all entries. Safe to call more than once.
func (s *Scope) Wipe() {
	for _, e := range s.entries {
		for i := range e {
			e[i] = 0
		}
	}
	s.entries = nil
}

// With runs body with the given secrets materialized as environment
// entries, and guarantees the scope is wiped when body returns,
// errors, or panics.
func With(vars map[string]string, body func(env []string) error) error {
	s := &Scope{}
	defer s.Wipe()

	for name, value := range vars {
		s.Set(name, value)
	}

	return body(s.Environ())
}
