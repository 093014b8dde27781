package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Opener creates an engine instance. Bindings register one from an init function.
type Opener func() (Engine, error)

var ErrUnknownEngine = errors.New("engine: no engine registered under that name")

var (
	mu      sync.Mutex
	openers = map[string]Opener{}
)

func Register(name string, o Opener) error {
	if name == "" || o == nil {
		return errors.New("engine: register needs a name and an opener")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := openers[name]; ok {
		return fmt.Errorf("engine: %q registered twice", name)
	}
	openers[name] = o
	return nil
}

// Open creates an instance of the named engine.
func Open(name string) (Engine, error) {
	mu.Lock()
	o, ok := openers[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownEngine, name, Names())
	}
	return o()
}

// Names lists the registered engines in order.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(openers))
	for n := range openers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
