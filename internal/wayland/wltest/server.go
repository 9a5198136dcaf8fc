// Package wltest provides an in-process fake compositor for tests. It
// listens on a unix socket, accepts one client, records every request it
// receives and lets tests inject events.
package wltest

import (
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/sys/unix"
)

// Pixel formats announced on every wl_shm bind.
const (
	formatARGB8888 = 0
	formatXRGB8888 = 1
)

// Global is a global the fake compositor advertises.
type Global struct {
	Interface string
	Version   uint32
}

// DefaultGlobals mirrors a compositor that still offers wl_shell, plus one
// global the viewer does not care about.
var DefaultGlobals = []Global{
	{Interface: "wl_compositor", Version: 4},
	{Interface: "wl_shm", Version: 1},
	{Interface: "wl_seat", Version: 7},
	{Interface: "wl_shell", Version: 1},
}

// Request is one decoded client request.
type Request struct {
	Object    uint32
	Interface string
	Name      string
	Args      []interface{}
}

// Qualified returns "interface.request".
func (r Request) Qualified() string {
	return r.Interface + "." + r.Name
}

// Bind records the arguments of a wl_registry.bind.
type Bind struct {
	Name      uint32
	Interface string
	Version   uint32
	ID        uint32
}

// Server is the fake compositor side of a connection.
type Server struct {
	t       testing.TB
	ln      *net.UnixListener
	conn    *Conn
	globals []Global

	mu       sync.Mutex
	objects  map[uint32]string
	fired    map[uint32]bool
	requests []Request
	binds    []Bind
	serial   uint32
	err      error

	accepted chan struct{}
	done     chan struct{}
}

// NewServer starts a fake compositor and returns it together with the
// absolute path of its socket. The server accepts a single client and is
// shut down when the test finishes.
func NewServer(t testing.TB, globals ...Global) (*Server, string) {
	t.Helper()
	if len(globals) == 0 {
		globals = DefaultGlobals
	}

	path := filepath.Join(t.TempDir(), "wayland-test")
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		t:        t,
		ln:       ln,
		globals:  globals,
		objects:  map[uint32]string{1: "wl_display"},
		fired:    map[uint32]bool{},
		accepted: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()

	t.Cleanup(func() {
		_ = ln.Close()
		<-s.accepted
		if s.conn != nil {
			_ = s.conn.UnixConn().Close()
		}
		<-s.done
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
	return s, path
}

func (s *Server) run() {
	defer close(s.done)

	c, err := s.ln.AcceptUnix()
	_ = s.ln.Close()
	if err != nil {
		close(s.accepted)
		return
	}
	s.conn = NewConn(c)
	close(s.accepted)

	s.serve()
}

// client returns the accepted connection, waiting for the client to
// connect.
func (s *Server) client() *Conn {
	s.t.Helper()
	<-s.accepted
	if s.conn == nil {
		s.t.Fatalf("no client connected")
	}
	return s.conn
}

func (s *Server) serve() {
	for {
		ev, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if err := s.handle(ev); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
	}
}

func (s *Server) handle(ev *Event) error {
	s.mu.Lock()
	iface, ok := s.objects[ev.ProxyID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("request %d on unknown object %d", ev.Opcode, ev.ProxyID)
	}

	req := Request{Object: ev.ProxyID, Interface: iface}
	var reply func() error

	switch iface {
	case "wl_display":
		switch ev.Opcode {
		case 0:
			id := ev.Uint32()
			req.Name, req.Args = "sync", []interface{}{id}
			s.track(id, "wl_callback")
			reply = func() error { return s.completeCallback(id) }
		case 1:
			id := ev.Uint32()
			req.Name, req.Args = "get_registry", []interface{}{id}
			s.track(id, "wl_registry")
			reply = func() error { return s.announce(id) }
		}
	case "wl_registry":
		if ev.Opcode == 0 {
			b := Bind{Name: ev.Uint32(), Interface: ev.String(), Version: ev.Uint32(), ID: ev.Uint32()}
			req.Name, req.Args = "bind", []interface{}{b.Name, b.Interface, b.Version, b.ID}
			s.track(b.ID, b.Interface)
			s.mu.Lock()
			s.binds = append(s.binds, b)
			s.mu.Unlock()
			if b.Interface == "wl_shm" {
				reply = func() error { return s.announceFormats(b.ID) }
			}
		}
	case "wl_compositor":
		switch ev.Opcode {
		case 0:
			id := ev.Uint32()
			req.Name, req.Args = "create_surface", []interface{}{id}
			s.track(id, "wl_surface")
		case 1:
			id := ev.Uint32()
			req.Name, req.Args = "create_region", []interface{}{id}
			s.track(id, "wl_region")
		}
	case "wl_surface":
		switch ev.Opcode {
		case 0:
			req.Name = "destroy"
			s.untrack(ev.ProxyID)
		case 1:
			req.Name, req.Args = "attach", []interface{}{ev.Uint32(), ev.Int32(), ev.Int32()}
		case 2:
			req.Name, req.Args = "damage", []interface{}{ev.Int32(), ev.Int32(), ev.Int32(), ev.Int32()}
		case 3:
			id := ev.Uint32()
			req.Name, req.Args = "frame", []interface{}{id}
			s.trackFrame(id)
		case 6:
			req.Name = "commit"
		default:
			req.Name = fmt.Sprintf("opcode%d", ev.Opcode)
		}
	case "wl_shm":
		if ev.Opcode == 0 {
			id := ev.Uint32()
			fd, ok := ev.FD()
			if !ok {
				return fmt.Errorf("create_pool without a file descriptor")
			}
			_ = unix.Close(fd)
			size := ev.Int32()
			req.Name, req.Args = "create_pool", []interface{}{id, size}
			s.track(id, "wl_shm_pool")
		}
	case "wl_shm_pool":
		switch ev.Opcode {
		case 0:
			id := ev.Uint32()
			req.Name = "create_buffer"
			req.Args = []interface{}{id, ev.Int32(), ev.Int32(), ev.Int32(), ev.Int32(), ev.Uint32()}
			s.track(id, "wl_buffer")
		case 1:
			req.Name = "destroy"
			s.untrack(ev.ProxyID)
		case 2:
			req.Name, req.Args = "resize", []interface{}{ev.Int32()}
		}
	case "wl_buffer":
		if ev.Opcode == 0 {
			req.Name = "destroy"
			s.untrack(ev.ProxyID)
		}
	case "wl_shell":
		if ev.Opcode == 0 {
			id, surface := ev.Uint32(), ev.Uint32()
			req.Name, req.Args = "get_shell_surface", []interface{}{id, surface}
			s.track(id, "wl_shell_surface")
		}
	case "wl_shell_surface":
		switch ev.Opcode {
		case 0:
			req.Name, req.Args = "pong", []interface{}{ev.Uint32()}
		case 3:
			req.Name = "set_toplevel"
		case 8:
			req.Name, req.Args = "set_title", []interface{}{ev.String()}
		case 9:
			req.Name, req.Args = "set_class", []interface{}{ev.String()}
		default:
			req.Name = fmt.Sprintf("opcode%d", ev.Opcode)
		}
	}

	if req.Name == "" {
		req.Name = fmt.Sprintf("opcode%d", ev.Opcode)
	}
	if err := ev.Err(); err != nil {
		return fmt.Errorf("%s: %w", req.Qualified(), err)
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if reply != nil {
		return reply()
	}
	return nil
}

func (s *Server) track(id uint32, iface string) {
	s.mu.Lock()
	s.objects[id] = iface
	s.mu.Unlock()
}

// trackFrame tracks a frame callback unless the test already fired it
// before this request was read.
func (s *Server) trackFrame(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired[id] {
		delete(s.fired, id)
		return
	}
	s.objects[id] = "wl_callback"
}

func (s *Server) untrack(id uint32) {
	s.mu.Lock()
	delete(s.objects, id)
	s.mu.Unlock()
}

func (s *Server) announce(registry uint32) error {
	for i, g := range s.globals {
		if err := s.conn.WriteMessage(registry, 0, uint32(i+1), g.Interface, g.Version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) announceFormats(shm uint32) error {
	for _, f := range []uint32{formatARGB8888, formatXRGB8888} {
		if err := s.conn.WriteMessage(shm, 0, f); err != nil {
			return err
		}
	}
	return nil
}

// completeCallback sends done followed by delete_id, like a compositor does.
func (s *Server) completeCallback(id uint32) error {
	s.mu.Lock()
	s.serial++
	serial := s.serial
	delete(s.objects, id)
	s.mu.Unlock()

	if err := s.conn.WriteMessage(id, 0, serial); err != nil {
		return err
	}
	return s.conn.WriteMessage(1, 1, id)
}

// SendEvent writes an arbitrary event to the client.
func (s *Server) SendEvent(objectID uint32, opcode uint16, args ...interface{}) {
	s.t.Helper()
	if err := s.client().WriteMessage(objectID, opcode, args...); err != nil {
		s.t.Fatalf("send event: %v", err)
	}
}

// Ping sends wl_shell_surface.ping.
func (s *Server) Ping(shellSurface, serial uint32) {
	s.SendEvent(shellSurface, 0, serial)
}

// Configure sends wl_shell_surface.configure.
func (s *Server) Configure(shellSurface, edges uint32, width, height int32) {
	s.SendEvent(shellSurface, 1, edges, width, height)
}

// PopupDone sends wl_shell_surface.popup_done.
func (s *Server) PopupDone(shellSurface uint32) {
	s.SendEvent(shellSurface, 2)
}

// FrameDone fires a frame callback with the given timestamp. The client
// may have sent the frame request without the server having read it yet;
// the callback is then remembered as fired and never tracked.
func (s *Server) FrameDone(callback, timeMs uint32) {
	s.t.Helper()
	s.mu.Lock()
	if _, ok := s.objects[callback]; ok {
		delete(s.objects, callback)
	} else {
		s.fired[callback] = true
	}
	s.mu.Unlock()
	s.SendEvent(callback, 0, timeMs)
	s.SendEvent(1, 1, callback)
}

// ProtocolError sends wl_display.error.
func (s *Server) ProtocolError(objectID, code uint32, msg string) {
	s.SendEvent(1, 0, objectID, code, msg)
}

// Disconnect closes the compositor side of the connection.
func (s *Server) Disconnect() {
	_ = s.client().UnixConn().Close()
}

// Err returns the error that stopped the server, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsNamed returns requests matching "interface.request".
func (s *Server) RequestsNamed(qualified string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Qualified() == qualified {
			out = append(out, r)
		}
	}
	return out
}

// RequestsOn returns requests sent to one object.
func (s *Server) RequestsOn(objectID uint32) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Object == objectID {
			out = append(out, r)
		}
	}
	return out
}

// Binds returns every wl_registry.bind received.
func (s *Server) Binds() []Bind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Bind(nil), s.binds...)
}

// LiveObjects returns the IDs of live objects of one interface.
func (s *Server) LiveObjects(iface string) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint32
	for id, i := range s.objects {
		if i == iface {
			ids = append(ids, id)
		}
	}
	return ids
}

// Wait blocks until the client has hung up and every request it sent has
// been handled.
func (s *Server) Wait() {
	<-s.done
}
