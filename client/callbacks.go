package client

import (
	"sync"

	"code.cloudfoundry.org/lager/v3"

	"github.com/deftio/pocketdock"
)

// callbackRegistry holds the stdout/stderr/exit callbacks registered on
// a container. Callbacks run on the dispatching operation's reader
// goroutine; a panicking callback is recovered and logged so it cannot
// break the frame loop or starve sibling callbacks.
type callbackRegistry struct {
	mu     sync.Mutex
	stdout []pocketdock.OutputCallback
	stderr []pocketdock.OutputCallback
	exit   []pocketdock.ExitCallback
	log    lager.Logger
}

func newCallbackRegistry(logger lager.Logger) *callbackRegistry {
	return &callbackRegistry{log: logger}
}

func (r *callbackRegistry) onStdout(fn pocketdock.OutputCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stdout = append(r.stdout, fn)
}

func (r *callbackRegistry) onStderr(fn pocketdock.OutputCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stderr = append(r.stderr, fn)
}

func (r *callbackRegistry) onExit(fn pocketdock.ExitCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exit = append(r.exit, fn)
}

func (r *callbackRegistry) dispatchOutput(kind pocketdock.StreamKind, container pocketdock.Container, data string) {
	r.mu.Lock()
	fns := r.stdout
	if kind == pocketdock.StderrStream {
		fns = r.stderr
	}
	snapshot := make([]pocketdock.OutputCallback, len(fns))
	copy(snapshot, fns)
	r.mu.Unlock()

	for _, fn := range snapshot {
		r.invoke(func() { fn(container, data) })
	}
}

func (r *callbackRegistry) dispatchExit(container pocketdock.Container, exitCode int) {
	r.mu.Lock()
	snapshot := make([]pocketdock.ExitCallback, len(r.exit))
	copy(snapshot, r.exit)
	r.mu.Unlock()

	for _, fn := range snapshot {
		r.invoke(func() { fn(container, exitCode) })
	}
}

func (r *callbackRegistry) invoke(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			r.log.Debug("callback-panicked", lager.Data{"error": err})
		}
	}()
	fn()
}
