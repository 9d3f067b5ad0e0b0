// Package process implements a single spawned child process (component G)
// and the actor that serializes every operation on the set of live
// processes (component H).
package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/distant-io/distant-go/internal/proto"
)

// ID identifies a process for the lifetime of the server that spawned it.
type ID = uint64

// PtySize is a terminal size in character cells.
type PtySize struct {
	Rows uint16
	Cols uint16
}

// SpawnRequest describes a process to launch.
type SpawnRequest struct {
	Cmd     string
	Args    []string
	Env     []string
	Dir     string
	Persist bool
	Pty     *PtySize // nil means plain pipes; non-nil attaches a pseudoterminal
}

// Reply is the slice of internal/connection.Reply an Instance needs: a
// place to emit ProcessStdout/ProcessStderr/ProcessDone events. Any type
// with a matching Send method satisfies this, including *connection.Reply,
// without process needing to import the connection package.
type Reply interface {
	Send(payload any) error
}

// Instance is one spawned child process: stdin sink, stdout/stderr
// sources (draining on their own goroutines), a killer, an optional pty
// resizer, and an exit observer that reports the final ProcessDone.
type Instance struct {
	ID      ID
	Persist bool

	mu      sync.Mutex
	stdin   io.WriteCloser
	ptyFile *os.File // non-nil only when spawned with a pty
	cmd     *exec.Cmd
	drainWG sync.WaitGroup
}

// Spawn starts cmd per req and wires its stdio to reply. onDone is called
// exactly once, after the process has fully exited, so the caller (the
// Manager actor) can reap it from its process map.
func Spawn(id ID, req SpawnRequest, reply Reply, onDone func(ID)) (*Instance, error) {
	cmd := exec.Command(req.Cmd, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = req.Env

	inst := &Instance{ID: id, Persist: req.Persist, cmd: cmd}

	if req.Pty != nil {
		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: req.Pty.Rows, Cols: req.Pty.Cols})
		if err != nil {
			return nil, err
		}
		inst.ptyFile = ptmx
		inst.stdin = ptmx
		inst.drainWG.Add(1)
		go func() {
			defer inst.drainWG.Done()
			inst.drain(ptmx, func(data []byte) {
				_ = reply.Send(proto.ProcessStdout{Id: id, Data: data})
			})
		}()
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		inst.stdin = stdin
		inst.drainWG.Add(2)
		go func() {
			defer inst.drainWG.Done()
			inst.drain(stdout, func(data []byte) {
				_ = reply.Send(proto.ProcessStdout{Id: id, Data: data})
			})
		}()
		go func() {
			defer inst.drainWG.Done()
			inst.drain(stderr, func(data []byte) {
				_ = reply.Send(proto.ProcessStderr{Id: id, Data: data})
			})
		}()
	}

	go inst.awaitExit(reply, onDone)

	return inst, nil
}

// drain reads arbitrary-size chunks from r until it errors (EOF on normal
// exit, or a read error when the pty slave side hangs up), emitting each
// chunk as it arrives.
func (i *Instance) drain(r io.Reader, emit func([]byte)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			emit(chunk)
		}
		if err != nil {
			return
		}
	}
}

// awaitExit is the exit observer: it blocks until both the stdout and
// stderr drains have read to completion and the child has exited, emits
// the final ProcessDone, then invokes onDone so the manager actor can
// reap this instance. The drains must finish before cmd.Wait is called:
// Wait closes the StdoutPipe/StderrPipe read ends once it sees the child
// exit, and os/exec documents that calling it before every pipe read has
// completed loses or truncates the pipe's final bytes.
func (i *Instance) awaitExit(reply Reply, onDone func(ID)) {
	i.drainWG.Wait()
	err := i.cmd.Wait()

	success := err == nil
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	i.mu.Lock()
	if i.ptyFile != nil {
		_ = i.ptyFile.Close()
	}
	i.mu.Unlock()

	_ = reply.Send(proto.ProcessDone{Id: i.ID, Success: success, Code: code})
	if onDone != nil {
		onDone(i.ID)
	}
}

// Stdin writes data to the process's stdin in one call, atomic up to
// whatever the OS pipe or pty buffer guarantees.
func (i *Instance) Stdin(data []byte) error {
	i.mu.Lock()
	stdin := i.stdin
	i.mu.Unlock()
	if stdin == nil {
		return errors.New("process: stdin is closed")
	}
	_, err := stdin.Write(data)
	return err
}

// Resize changes the pty's terminal size. Errors if this instance has no
// pty attached.
func (i *Instance) Resize(size PtySize) error {
	i.mu.Lock()
	f := i.ptyFile
	i.mu.Unlock()
	if f == nil {
		return errors.New("process: no pty attached")
	}
	return pty.Setsize(f, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
}

// Kill terminates the process.
func (i *Instance) Kill() error {
	i.mu.Lock()
	cmd := i.cmd
	i.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return errors.New("process: not started")
	}
	return cmd.Process.Kill()
}
