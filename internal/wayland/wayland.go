// Package wayland drives a go-wayland client connection from a single
// goroutine. A reader goroutine only pulls messages off the socket; the
// object table is touched solely by the goroutine that calls Dispatch, and
// events addressed to objects already destroyed on our side are dropped.
package wayland

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rajveermalviya/go-wayland/wayland/client"
	"golang.org/x/sys/unix"
)

// Interface names of the globals the viewer binds.
const (
	CompositorInterface = "wl_compositor"
	ShellInterface      = "wl_shell"
	ShmInterface        = "wl_shm"
)

// Pixel formats every wl_shm implementation supports.
const (
	FormatARGB8888 = uint32(client.ShmFormatArgb8888)
	FormatXRGB8888 = uint32(client.ShmFormatXrgb8888)
)

var (
	// ErrNoRuntimeDir is returned when a relative socket name cannot be resolved.
	ErrNoRuntimeDir = errors.New("XDG_RUNTIME_DIR not set")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("display closed")
)

// ProtocolError is a fatal wl_display.error sent by the compositor.
// ObjectID is 0 when the object is unknown on our side.
type ProtocolError struct {
	ObjectID uint32
	Code     uint32
	Message  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: object %d, code %d: %s", e.ObjectID, e.Code, e.Message)
}

type message struct {
	sender uint32
	opcode uint32
	fd     int
	data   []byte
	err    error
}

// Display is a connection to a compositor. It is not safe for concurrent
// use: requests, Dispatch and Close belong to one goroutine.
type Display struct {
	proxy *client.Display
	ctx   *client.Context

	msgs   chan message
	stop   chan struct{}
	closed bool

	// first fatal error, returned by every later Dispatch
	err error
}

// Connect opens the compositor socket. name (or WAYLAND_DISPLAY, or
// "wayland-0") is resolved under XDG_RUNTIME_DIR unless it is absolute.
func Connect(name string) (*Display, error) {
	socketPath, err := SocketPath(name)
	if err != nil {
		return nil, err
	}

	proxy, err := client.Connect(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Wayland: %w", err)
	}

	d := &Display{
		proxy: proxy,
		ctx:   proxy.Context(),
		msgs:  make(chan message),
		stop:  make(chan struct{}),
	}
	proxy.SetErrorHandler(d.handleError)
	proxy.SetDeleteIdHandler(d.handleDeleteID)

	go d.readLoop()
	return d, nil
}

// SocketPath resolves the socket a display name refers to.
func SocketPath(name string) (string, error) {
	if name == "" {
		name = os.Getenv("WAYLAND_DISPLAY")
		if name == "" {
			name = "wayland-0"
		}
	}
	if filepath.IsAbs(name) {
		return name, nil
	}

	runDir := os.Getenv("XDG_RUNTIME_DIR")
	if runDir == "" {
		return "", ErrNoRuntimeDir
	}
	return filepath.Join(runDir, name), nil
}

// Context returns the object table new proxies are registered in.
func (d *Display) Context() *client.Context {
	return d.ctx
}

// GetRegistry creates the registry object. Globals are announced on the
// next dispatch.
func (d *Display) GetRegistry() (*client.Registry, error) {
	r, err := d.proxy.GetRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to get registry: %w", err)
	}
	return r, nil
}

// Sync asks the compositor to fire the returned callback once every request
// sent so far has been processed.
func (d *Display) Sync() (*client.Callback, error) {
	return d.proxy.Sync()
}

// Err returns the fatal error that stopped the connection, if any.
func (d *Display) Err() error {
	return d.err
}

// Close stops the reader and closes the socket. Proxies become unusable.
func (d *Display) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.stop)
	_ = d.proxy.Destroy()
	return d.ctx.Close()
}

// Roundtrip blocks until the compositor has processed all prior requests,
// dispatching events as they arrive.
func (d *Display) Roundtrip() error {
	cb, err := d.Sync()
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	done := false
	cb.SetDoneHandler(func(client.CallbackDoneEvent) { done = true })
	for !done {
		if err := d.Dispatch(context.Background()); err != nil {
			_ = cb.Destroy()
			return err
		}
	}
	return nil
}

// Dispatch waits for one event and runs its handler on the calling
// goroutine. It returns ctx.Err() once ctx is done, without any protocol
// traffic. Events for unknown or already destroyed objects are dropped.
func (d *Display) Dispatch(ctx context.Context) error {
	if d.err != nil {
		return d.err
	}
	if d.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case m := <-d.msgs:
		if m.err != nil {
			d.err = fmt.Errorf("failed to read event: %w", m.err)
			return d.err
		}
		d.dispatch(m)
		return d.err
	}
}

func (d *Display) dispatch(m message) {
	target, ok := d.ctx.GetProxy(m.sender).(client.Dispatcher)
	if !ok {
		if m.fd >= 0 {
			_ = unix.Close(m.fd)
		}
		return
	}
	target.Dispatch(m.opcode, m.fd, m.data)
}

// readLoop feeds raw messages to Dispatch until the socket fails or the
// display is closed.
func (d *Display) readLoop() {
	for {
		var m message
		m.sender, m.opcode, m.fd, m.data, m.err = d.ctx.ReadMsg()

		select {
		case d.msgs <- m:
		case <-d.stop:
			if m.fd >= 0 {
				_ = unix.Close(m.fd)
			}
			return
		}
		if m.err != nil {
			return
		}
	}
}

func (d *Display) handleError(e client.DisplayErrorEvent) {
	perr := &ProtocolError{Code: e.Code, Message: e.Message}
	if e.ObjectId != nil {
		perr.ObjectID = e.ObjectId.ID()
	}
	if d.err == nil {
		d.err = perr
	}
}

// handleDeleteID forgets an object the compositor has finished with.
func (d *Display) handleDeleteID(e client.DisplayDeleteIdEvent) {
	if p := d.ctx.GetProxy(e.Id); p != nil {
		d.ctx.Unregister(p)
	}
}
