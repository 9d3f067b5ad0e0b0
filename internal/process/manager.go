package process

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by every Manager operation once the actor has been
// aborted, mirroring distant-core's "Internal process task closed" error.
var ErrClosed = errors.New("process: internal process task closed")

// ErrUnknownProcess is returned when an operation names a process id the
// manager has no record of.
var ErrUnknownProcess = errors.New("process: no such process")

type spawnCmd struct {
	req   SpawnRequest
	reply Reply
	resp  chan spawnResult
}

type spawnResult struct {
	id  ID
	err error
}

type resizeCmd struct {
	id   ID
	size PtySize
	resp chan error
}

type stdinCmd struct {
	id   ID
	data []byte
	resp chan error
}

type killCmd struct {
	id   ID
	resp chan error
}

type removeCmd struct {
	id ID
}

// Manager is the single-writer actor owning the id -> Instance map. Every
// mutation happens on one goroutine reading from a capacity-1 command
// channel; external callers never touch the map directly, matching
// distant-core's process_task + InnerProcessMsg design.
type Manager struct {
	cmds chan any
	done chan struct{}
	once sync.Once
	next atomic.Uint64
}

// NewManager starts the actor goroutine and returns a handle to it.
func NewManager() *Manager {
	m := &Manager{
		cmds: make(chan any, 1),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Manager) run() {
	processes := make(map[ID]*Instance)
	for {
		select {
		case raw := <-m.cmds:
			m.handle(processes, raw)
		case <-m.done:
			for _, inst := range processes {
				if !inst.Persist {
					_ = inst.Kill()
				}
			}
			return
		}
	}
}

func (m *Manager) handle(processes map[ID]*Instance, raw any) {
	switch c := raw.(type) {
	case spawnCmd:
		id := m.next.Add(1)
		inst, err := Spawn(id, c.req, c.reply, func(doneID ID) {
			m.enqueue(removeCmd{id: doneID})
		})
		if err != nil {
			c.resp <- spawnResult{err: err}
			return
		}
		processes[id] = inst
		c.resp <- spawnResult{id: id}

	case resizeCmd:
		inst, ok := processes[c.id]
		if !ok {
			c.resp <- ErrUnknownProcess
			return
		}
		c.resp <- inst.Resize(c.size)

	case stdinCmd:
		inst, ok := processes[c.id]
		if !ok {
			c.resp <- ErrUnknownProcess
			return
		}
		c.resp <- inst.Stdin(c.data)

	case killCmd:
		inst, ok := processes[c.id]
		if !ok {
			c.resp <- ErrUnknownProcess
			return
		}
		c.resp <- inst.Kill()

	case removeCmd:
		delete(processes, c.id)
	}
}

// enqueue sends a command to the actor, dropping it silently if the actor
// has already been aborted — used for the InternalRemove reap signal,
// which has no caller waiting on a response.
func (m *Manager) enqueue(cmd any) {
	select {
	case m.cmds <- cmd:
	case <-m.done:
	}
}

func (m *Manager) call(cmd any, resp <-chan error) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.cmds <- cmd:
	case <-m.done:
		return ErrClosed
	}
	select {
	case err := <-resp:
		return err
	case <-m.done:
		return ErrClosed
	}
}

// Spawn asks the actor to launch a new process, returning its id.
func (m *Manager) Spawn(req SpawnRequest, reply Reply) (ID, error) {
	resp := make(chan spawnResult, 1)
	select {
	case <-m.done:
		return 0, ErrClosed
	default:
	}
	select {
	case m.cmds <- spawnCmd{req: req, reply: reply, resp: resp}:
	case <-m.done:
		return 0, ErrClosed
	}
	select {
	case r := <-resp:
		return r.id, r.err
	case <-m.done:
		return 0, ErrClosed
	}
}

// Resize changes a running process's pty size.
func (m *Manager) Resize(id ID, size PtySize) error {
	resp := make(chan error, 1)
	return m.call(resizeCmd{id: id, size: size, resp: resp}, resp)
}

// Stdin writes data to a running process's stdin.
func (m *Manager) Stdin(id ID, data []byte) error {
	resp := make(chan error, 1)
	return m.call(stdinCmd{id: id, data: data, resp: resp}, resp)
}

// Kill terminates a running process.
func (m *Manager) Kill(id ID) error {
	resp := make(chan error, 1)
	return m.call(killCmd{id: id, resp: resp}, resp)
}

// Abort stops the actor. Persisted processes are left running, exactly as
// spec'd: "dropping the handle does not kill processes; aborting the
// actor task does... which kills non-persistent children." Safe to call
// more than once.
func (m *Manager) Abort() {
	m.once.Do(func() { close(m.done) })
}
