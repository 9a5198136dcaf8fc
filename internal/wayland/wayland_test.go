package wayland_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/waycursor/internal/wayland"
	"github.com/bnema/waycursor/internal/wayland/wltest"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDisplay(t *testing.T, globals ...wltest.Global) (*wayland.Display, *wltest.Server) {
	t.Helper()
	srv, socket := wltest.NewServer(t, globals...)
	d, err := wayland.Connect(socket)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, srv
}

type globals struct {
	compositor *client.Compositor
	shell      *client.Shell
	shm        *client.Shm
	formats    []uint32
}

// bindAll binds every global the viewer needs at version 1.
func bindAll(t *testing.T, d *wayland.Display) *globals {
	t.Helper()
	registry, err := d.GetRegistry()
	require.NoError(t, err)

	g := &globals{}
	registry.SetGlobalHandler(func(e client.RegistryGlobalEvent) {
		var p client.Proxy
		switch e.Interface {
		case wayland.CompositorInterface:
			g.compositor = client.NewCompositor(d.Context())
			p = g.compositor
		case wayland.ShellInterface:
			g.shell = client.NewShell(d.Context())
			p = g.shell
		case wayland.ShmInterface:
			g.shm = client.NewShm(d.Context())
			g.shm.SetFormatHandler(func(f client.ShmFormatEvent) { g.formats = append(g.formats, f.Format) })
			p = g.shm
		default:
			return
		}
		require.NoError(t, registry.Bind(e.Name, e.Interface, 1, p))
	})
	require.NoError(t, d.Roundtrip())
	require.NoError(t, d.Roundtrip())
	return g
}

func TestRegistryGlobals(t *testing.T) {
	d, srv := newDisplay(t)

	registry, err := d.GetRegistry()
	require.NoError(t, err)

	var seen []client.RegistryGlobalEvent
	registry.SetGlobalHandler(func(e client.RegistryGlobalEvent) {
		seen = append(seen, e)
	})

	require.NoError(t, d.Roundtrip())

	require.Len(t, seen, len(wltest.DefaultGlobals))
	for i, g := range wltest.DefaultGlobals {
		assert.Equal(t, uint32(i+1), seen[i].Name)
		assert.Equal(t, g.Interface, seen[i].Interface)
		assert.Equal(t, g.Version, seen[i].Version)
	}

	assert.Len(t, srv.RequestsNamed("wl_display.get_registry"), 1)
	assert.Len(t, srv.RequestsNamed("wl_display.sync"), 1)
}

func TestRoundtripFiresEachCallbackOnce(t *testing.T) {
	d, srv := newDisplay(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Roundtrip())
	}

	syncs := srv.RequestsNamed("wl_display.sync")
	require.Len(t, syncs, 3)
	ids := map[interface{}]bool{}
	for _, r := range syncs {
		ids[r.Args[0]] = true
	}
	assert.Len(t, ids, 3, "every sync must use a fresh callback id")
	assert.Empty(t, srv.LiveObjects("wl_callback"))
}

func TestBindAndSurfaceRequests(t *testing.T) {
	d, srv := newDisplay(t)
	g := bindAll(t, d)

	require.NotNil(t, g.compositor)
	require.NotNil(t, g.shell)
	require.NotNil(t, g.shm)
	assert.Equal(t, []uint32{wayland.FormatARGB8888, wayland.FormatXRGB8888}, g.formats)

	binds := srv.Binds()
	require.Len(t, binds, 3)
	for _, b := range binds {
		assert.Equal(t, uint32(1), b.Version)
	}
	assert.Equal(t, "wl_compositor", binds[0].Interface)

	surface, err := g.compositor.CreateSurface()
	require.NoError(t, err)
	role, err := g.shell.GetShellSurface(surface)
	require.NoError(t, err)
	require.NoError(t, role.SetToplevel())
	require.NoError(t, role.SetTitle("left_ptr"))

	cb, err := surface.Frame()
	require.NoError(t, err)
	require.NoError(t, surface.Attach(nil, 0, 0))
	require.NoError(t, surface.Damage(0, 0, 24, 24))
	require.NoError(t, surface.Commit())
	require.NoError(t, d.Roundtrip())

	var names []string
	for _, r := range srv.RequestsOn(surface.ID()) {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"frame", "attach", "damage", "commit"}, names)

	title := srv.RequestsNamed("wl_shell_surface.set_title")
	require.Len(t, title, 1)
	assert.Equal(t, "left_ptr", title[0].Args[0])

	get := srv.RequestsNamed("wl_shell.get_shell_surface")
	require.Len(t, get, 1)
	assert.Equal(t, role.ID(), get[0].Args[0])
	assert.Equal(t, surface.ID(), get[0].Args[1])

	var fired []uint32
	cb.SetDoneHandler(func(e client.CallbackDoneEvent) { fired = append(fired, e.CallbackData) })
	srv.FrameDone(cb.ID(), 1234)
	require.NoError(t, d.Roundtrip())
	assert.Equal(t, []uint32{1234}, fired)
	assert.Nil(t, d.Context().GetProxy(cb.ID()), "delete_id forgets the callback")
}

func TestShmPoolCarriesDescriptor(t *testing.T) {
	d, srv := newDisplay(t)
	g := bindAll(t, d)

	f, err := os.CreateTemp(t.TempDir(), "pool-*")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(4096))

	pool, err := g.shm.CreatePool(int(f.Fd()), 4096)
	require.NoError(t, err)
	buf, err := pool.CreateBuffer(0, 16, 16, 64, wayland.FormatARGB8888)
	require.NoError(t, err)
	require.NoError(t, pool.Destroy())
	require.NoError(t, buf.Destroy())
	require.NoError(t, d.Roundtrip())

	create := srv.RequestsNamed("wl_shm.create_pool")
	require.Len(t, create, 1)
	assert.Equal(t, int32(4096), create[0].Args[1])

	cb := srv.RequestsNamed("wl_shm_pool.create_buffer")
	require.Len(t, cb, 1)
	assert.Equal(t, []interface{}{buf.ID(), int32(0), int32(16), int32(16), int32(64), wayland.FormatARGB8888}, cb[0].Args)
	assert.Empty(t, srv.LiveObjects("wl_buffer"))
	assert.NoError(t, srv.Err())
}

func TestPingIsDeliveredToHandler(t *testing.T) {
	d, srv := newDisplay(t)
	g := bindAll(t, d)

	surface, err := g.compositor.CreateSurface()
	require.NoError(t, err)
	role, err := g.shell.GetShellSurface(surface)
	require.NoError(t, err)

	var configured bool
	role.SetPingHandler(func(e client.ShellSurfacePingEvent) { require.NoError(t, role.Pong(e.Serial)) })
	role.SetConfigureHandler(func(client.ShellSurfaceConfigureEvent) { configured = true })
	require.NoError(t, d.Roundtrip())

	srv.Ping(role.ID(), 77)
	srv.Configure(role.ID(), 0, 100, 100)
	require.NoError(t, d.Roundtrip())
	// the pong was written after the first sync, a second one flushes it
	require.NoError(t, d.Roundtrip())

	pongs := srv.RequestsNamed("wl_shell_surface.pong")
	require.Len(t, pongs, 1)
	assert.Equal(t, uint32(77), pongs[0].Args[0])
	assert.True(t, configured)
}

func TestEventsForDestroyedObjectsAreIgnored(t *testing.T) {
	d, srv := newDisplay(t)

	registry, err := d.GetRegistry()
	require.NoError(t, err)
	require.NoError(t, d.Roundtrip())

	cb, err := d.Sync()
	require.NoError(t, err)
	called := false
	cb.SetDoneHandler(func(client.CallbackDoneEvent) { called = true })
	require.NoError(t, cb.Destroy())

	require.NoError(t, d.Roundtrip())
	assert.False(t, called)

	require.NoError(t, registry.Destroy())
	srv.SendEvent(registry.ID(), 0, uint32(99), "wl_output", uint32(4))
	srv.SendEvent(4242, 0)
	require.NoError(t, d.Roundtrip())
	assert.NoError(t, d.Err())
}

func TestProtocolError(t *testing.T) {
	d, srv := newDisplay(t)

	registry, err := d.GetRegistry()
	require.NoError(t, err)
	srv.ProtocolError(registry.ID(), 2, "invalid object")

	err = d.Roundtrip()
	require.Error(t, err)

	var perr *wayland.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, registry.ID(), perr.ObjectID)
	assert.Equal(t, uint32(2), perr.Code)
	assert.Equal(t, "invalid object", perr.Message)

	assert.Same(t, perr, d.Err())
	assert.ErrorIs(t, d.Dispatch(context.Background()), perr)
}

func TestProtocolErrorOnUnknownObject(t *testing.T) {
	d, srv := newDisplay(t)

	srv.ProtocolError(77, 1, "gone")

	var perr *wayland.ProtocolError
	require.ErrorAs(t, d.Roundtrip(), &perr)
	assert.Zero(t, perr.ObjectID)
	assert.Equal(t, "gone", perr.Message)
}

func TestDispatchFailsWhenCompositorGoesAway(t *testing.T) {
	d, srv := newDisplay(t)

	srv.Disconnect()
	assert.Error(t, d.Dispatch(context.Background()))
	assert.Error(t, d.Dispatch(context.Background()), "the failure is sticky")
}

func TestDispatchReturnsOnCancel(t *testing.T) {
	d, srv := newDisplay(t)

	// nothing was requested, so nothing can arrive
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Dispatch(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Dispatch did not return after cancel")
	}

	// cancelling is local, the connection stays usable
	require.NoError(t, d.Roundtrip())
	assert.Len(t, srv.Requests(), 1)
}

func TestDispatchAfterClose(t *testing.T) {
	d, _ := newDisplay(t)

	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Dispatch(context.Background()), wayland.ErrClosed)
	assert.NoError(t, d.Close())
}

func TestSocketPath(t *testing.T) {
	tests := []struct {
		name       string
		display    string
		env        string
		runtimeDir string
		want       string
		wantErr    error
	}{
		{name: "default", runtimeDir: "/run/user/1000", want: "/run/user/1000/wayland-0"},
		{name: "from env", env: "wayland-1", runtimeDir: "/run/user/1000", want: "/run/user/1000/wayland-1"},
		{name: "explicit wins", display: "wayland-5", env: "wayland-1", runtimeDir: "/tmp", want: "/tmp/wayland-5"},
		{name: "absolute", display: "/tmp/sock", want: "/tmp/sock"},
		{name: "no runtime dir", display: "wayland-0", wantErr: wayland.ErrNoRuntimeDir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WAYLAND_DISPLAY", tt.env)
			t.Setenv("XDG_RUNTIME_DIR", tt.runtimeDir)

			got, err := wayland.SocketPath(tt.display)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Clean(tt.want), got)
		})
	}
}

func TestConnectMissingSocket(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	_, err := wayland.Connect("wayland-missing")
	assert.Error(t, err)
}

func TestConnectResolvesRelativeName(t *testing.T) {
	_, socket := wltest.NewServer(t)
	t.Setenv("XDG_RUNTIME_DIR", filepath.Dir(socket))

	d, err := wayland.Connect(filepath.Base(socket))
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Roundtrip())
}
