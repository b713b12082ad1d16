package device

import "sync"

// Function is a loaded, callable kernel.
type Function interface {
	Name() string
}

// Loader places PTX on an accelerator and returns the named entry.
type Loader interface {
	Load(ptx, name string) (Function, error)
}

// NopLoader keeps what it was asked to load. It stands in for a driver
// binding on machines without one.
type NopLoader struct {
	mu     sync.Mutex
	loaded []Loaded
}

// Loaded is one recorded load.
type Loaded struct {
	Entry string
	PTX   string
}

func (l Loaded) Name() string { return l.Entry }

func (l *NopLoader) Load(ptx, name string) (Function, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f := Loaded{Entry: name, PTX: ptx}
	l.loaded = append(l.loaded, f)
	return f, nil
}

// Loads returns the recorded loads in order.
func (l *NopLoader) Loads() []Loaded {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Loaded(nil), l.loaded...)
}
