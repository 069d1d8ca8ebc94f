package cmdsys

import "fmt"

// A Handler is a command's implementation. It receives the words that
// followed the command name (the command name itself is consumed by the
// registry) and returns a human-readable response, or an error.
type Handler func(args []string) (response string, err error)

// A Registry maps command names to Handlers. Unlike the reference
// implementation's convention of tagging methods with an is_command
// attribute and discovering them via reflection, this module builds the
// name-to-handler map explicitly at construction time, per the "dynamic
// event dispatch by name" design note: a registry populated once, looked
// up by string, rather than attribute-based discovery.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds name as a command backed by h. Registering the same name
// twice replaces the previous handler.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// IsCommand reports whether name is a registered command.
func (r *Registry) IsCommand(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered command names, in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Invoke runs the command named by words[0] with the remaining words as
// arguments. An unregistered name produces the exact UserError string the
// spec requires: "error: '<name>' unknown command".
func (r *Registry) Invoke(words []string) (string, error) {
	if len(words) == 0 {
		return "", fmt.Errorf("empty command")
	}
	h, ok := r.handlers[words[0]]
	if !ok {
		return "", fmt.Errorf("error: '%s' unknown command", words[0])
	}
	return h(words[1:])
}
