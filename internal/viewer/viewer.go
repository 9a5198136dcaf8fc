// Package viewer shows animated cursors from an Xcursor theme, one
// toplevel wl_shell surface per cursor, paced by compositor frame
// callbacks.
package viewer

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/waycursor/internal/cursor"
	"github.com/bnema/waycursor/internal/logger"
	"github.com/bnema/waycursor/internal/wayland"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"go.uber.org/multierr"
)

// Viewer owns the compositor connection, the bound globals, the loaded
// theme and every shown surface. All methods run on the goroutine that
// dispatches events.
type Viewer struct {
	display    *wayland.Display
	registry   *client.Registry
	compositor *client.Compositor
	shell      *client.Shell
	shm        *client.Shm
	theme      *cursor.Theme

	surfaces   []*CursorSurface
	shmFormats []uint32
	bindErr    error
}

// Connect opens the compositor socket and runs the bootstrap.
func Connect(socket string) (*Viewer, error) {
	display, err := wayland.Connect(socket)
	if err != nil {
		return nil, err
	}
	return New(display)
}

// New obtains the registry, binds the required globals and waits two
// round-trips: one for the globals, one for events sent on bind. The
// display is closed on failure.
func New(display *wayland.Display) (*Viewer, error) {
	v := &Viewer{display: display}

	registry, err := display.GetRegistry()
	if err != nil {
		_ = v.Close()
		return nil, err
	}
	v.registry = registry
	registry.SetGlobalHandler(v.handleGlobal)

	for i := 0; i < 2; i++ {
		if err := display.Roundtrip(); err != nil {
			_ = v.Close()
			return nil, fmt.Errorf("initial roundtrip failed: %w", err)
		}
	}

	if v.bindErr != nil {
		_ = v.Close()
		return nil, v.bindErr
	}
	if missing := v.missing(); len(missing) > 0 {
		_ = v.Close()
		return nil, &MissingCapabilitiesError{Missing: missing}
	}

	logger.Debug("connected to compositor", "shm_formats", len(v.shmFormats))
	return v, nil
}

// LoadTheme loads the cursor theme every later Show draws from.
func (v *Viewer) LoadTheme(name string, size int, searchPaths []string) error {
	var pools cursor.PoolCreator
	if v.shm != nil {
		pools = v.shm
	}
	theme, err := cursor.Load(pools, name, size, searchPaths)
	if err != nil {
		return fmt.Errorf("failed to load cursor theme: %w", err)
	}
	if v.theme != nil {
		_ = v.theme.Destroy()
	}
	v.theme = theme
	return nil
}

// Theme returns the loaded theme, nil before LoadTheme.
func (v *Viewer) Theme() *cursor.Theme {
	return v.theme
}

// ShowCursors shows one surface per name. Unknown names are logged and
// skipped; any other failure stops and is returned.
func (v *Viewer) ShowCursors(names []string) error {
	for _, name := range names {
		if _, err := v.Show(name); err != nil {
			if errors.Is(err, ErrNoSuchCursor) {
				continue
			}
			return err
		}
	}
	return nil
}

// Surfaces returns the shown surfaces in creation order.
func (v *Viewer) Surfaces() []*CursorSurface {
	return append([]*CursorSurface(nil), v.surfaces...)
}

// Run dispatches events until ctx is done or the connection fails. A
// cancelled ctx returns nil without any protocol traffic.
func (v *Viewer) Run(ctx context.Context) error {
	for {
		if err := v.display.Dispatch(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dispatch failed: %w", err)
		}
	}
}

// Close destroys the surfaces in reverse creation order, then the theme,
// the globals, the registry and the connection. It is safe on a partially
// built viewer and safe to call twice.
func (v *Viewer) Close() error {
	var err error

	for i := len(v.surfaces) - 1; i >= 0; i-- {
		err = multierr.Append(err, v.surfaces[i].Destroy())
	}
	v.surfaces = nil

	if v.theme != nil {
		err = multierr.Append(err, v.theme.Destroy())
		v.theme = nil
	}
	// wl_shell, wl_compositor, wl_shm and wl_registry have no destructor
	// request in version 1, they are only forgotten locally
	if v.shell != nil {
		err = multierr.Append(err, v.shell.Destroy())
		v.shell = nil
	}
	if v.compositor != nil {
		err = multierr.Append(err, v.compositor.Destroy())
		v.compositor = nil
	}
	if v.shm != nil {
		err = multierr.Append(err, v.shm.Destroy())
		v.shm = nil
	}
	if v.registry != nil {
		err = multierr.Append(err, v.registry.Destroy())
		v.registry = nil
	}
	if v.display != nil {
		err = multierr.Append(err, v.display.Close())
		v.display = nil
	}
	return err
}
