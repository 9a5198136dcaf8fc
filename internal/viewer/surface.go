package viewer

import (
	"errors"
	"fmt"

	"github.com/bnema/waycursor/internal/cursor"
	"github.com/bnema/waycursor/internal/logger"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"go.uber.org/multierr"
)

// ErrNoSuchCursor is returned by Show for names the theme lacks.
var ErrNoSuchCursor = errors.New("no such cursor")

// State is the animation state of a surface.
type State int

const (
	// StateStatic surfaces show one image and never request a frame.
	StateStatic State = iota
	// StateAwaitingFrame surfaces hold exactly one pending frame callback.
	StateAwaitingFrame
)

func (s State) String() string {
	if s == StateAwaitingFrame {
		return "awaiting_frame"
	}
	return "static"
}

// frameSlot holds the single outstanding frame callback of a surface.
// renew releases the previous callback before requesting the next one, so
// a surface never has two.
type frameSlot struct {
	cb *client.Callback
}

func (f *frameSlot) renew(surface *client.Surface, done client.CallbackDoneHandlerFunc) error {
	f.release()
	cb, err := surface.Frame()
	if err != nil {
		return err
	}
	cb.SetDoneHandler(done)
	f.cb = cb
	return nil
}

// release forgets the callback locally, a late done event for it is
// dropped.
func (f *frameSlot) release() {
	if f.cb != nil {
		_ = f.cb.Destroy()
		f.cb = nil
	}
}

func (f *frameSlot) pending() bool {
	return f.cb != nil
}

// CursorSurface is one toplevel window showing one cursor.
type CursorSurface struct {
	Name string

	viewer  *Viewer
	surface *client.Surface
	role    *client.ShellSurface
	cursor  *cursor.Cursor
	frame   frameSlot

	current int
	commits int
}

// Show creates a toplevel surface titled name and starts showing the
// cursor of that name. A name the theme lacks is logged, its surface torn
// down again, and ErrNoSuchCursor returned.
func (v *Viewer) Show(name string) (*CursorSurface, error) {
	if v.theme == nil {
		return nil, errors.New("no cursor theme loaded")
	}

	surface, err := v.compositor.CreateSurface()
	if err != nil {
		return nil, fmt.Errorf("failed to create surface: %w", err)
	}
	s := &CursorSurface{Name: name, viewer: v, surface: surface}

	s.role, err = v.shell.GetShellSurface(surface)
	if err != nil {
		_ = s.Destroy()
		return nil, fmt.Errorf("failed to create shell surface: %w", err)
	}
	s.role.SetPingHandler(s.handlePing)
	s.role.SetConfigureHandler(func(client.ShellSurfaceConfigureEvent) {})
	s.role.SetPopupDoneHandler(func(client.ShellSurfacePopupDoneEvent) {})

	if err := multierr.Combine(s.role.SetToplevel(), s.role.SetTitle(name)); err != nil {
		_ = s.Destroy()
		return nil, fmt.Errorf("failed to configure shell surface: %w", err)
	}

	cur, ok := v.theme.Cursor(name)
	if !ok {
		logger.Warnf("No such cursor: %s", name)
		_ = s.Destroy()
		return nil, fmt.Errorf("%w: %s", ErrNoSuchCursor, name)
	}
	s.cursor = cur

	// the callback must be pending before the commit that shows the first
	// image, otherwise it is never fired
	if len(cur.Images) > 1 {
		if err := s.frame.renew(surface, s.handleFrame); err != nil {
			_ = s.Destroy()
			return nil, fmt.Errorf("failed to request frame: %w", err)
		}
	}
	if err := s.present(0); err != nil {
		_ = s.Destroy()
		return nil, err
	}

	first := cur.Images[0]
	logger.Info("show_cursor", "name", name, "size", fmt.Sprintf("%dx%d", first.Width, first.Height), "image_count", len(cur.Images))

	v.surfaces = append(v.surfaces, s)
	return s, nil
}

func (s *CursorSurface) handlePing(e client.ShellSurfacePingEvent) {
	if err := s.role.Pong(e.Serial); err != nil {
		logger.Errorf("Failed to answer ping on %s: %v", s.Name, err)
	}
}

// handleFrame advances the animation: pick the image for the frame time,
// drop the fired callback, request the next one and commit.
func (s *CursorSurface) handleFrame(e client.CallbackDoneEvent) {
	index := s.cursor.FrameAt(e.CallbackData)

	s.frame.release()
	if err := s.frame.renew(s.surface, s.handleFrame); err != nil {
		logger.Errorf("Failed to request frame for %s: %v", s.Name, err)
		return
	}

	if err := s.present(index); err != nil {
		logger.Errorf("Failed to draw %s: %v", s.Name, err)
	}
}

// present attaches image index, damages all of it and commits.
func (s *CursorSurface) present(index int) error {
	img := s.cursor.Images[index]
	buf, err := img.Buffer()
	if err != nil {
		return err
	}

	if err := s.surface.Attach(buf, 0, 0); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	if err := s.surface.Damage(0, 0, img.Width, img.Height); err != nil {
		return fmt.Errorf("damage: %w", err)
	}
	if err := s.surface.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.current = index
	s.commits++
	return nil
}

// State reports whether the surface waits for a frame callback.
func (s *CursorSurface) State() State {
	if s.frame.pending() {
		return StateAwaitingFrame
	}
	return StateStatic
}

// Frame returns the index of the image last committed.
func (s *CursorSurface) Frame() int {
	return s.current
}

// Commits returns how many images have been committed.
func (s *CursorSurface) Commits() int {
	return s.commits
}

// SurfaceID returns the wl_surface object ID.
func (s *CursorSurface) SurfaceID() uint32 {
	if s.surface == nil {
		return 0
	}
	return s.surface.ID()
}

// Viewer returns the viewer that owns the surface.
func (s *CursorSurface) Viewer() *Viewer {
	return s.viewer
}

// RoleID returns the wl_shell_surface object ID, 0 without a role.
func (s *CursorSurface) RoleID() uint32 {
	if s.role == nil {
		return 0
	}
	return s.role.ID()
}

// PendingFrameID returns the ID of the outstanding frame callback, 0 when
// there is none.
func (s *CursorSurface) PendingFrameID() uint32 {
	if s.frame.cb == nil {
		return 0
	}
	return s.frame.cb.ID()
}

// Destroy releases the role, the surface and any pending callback, in that
// order.
func (s *CursorSurface) Destroy() error {
	var err error
	if s.role != nil {
		err = s.role.Destroy()
		s.role = nil
	}
	if s.surface != nil {
		err = multierr.Append(err, s.surface.Destroy())
		s.surface = nil
	}
	s.frame.release()
	return err
}
