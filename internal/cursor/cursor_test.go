package cursor

import (
	"testing"

	"github.com/bnema/waycursor/internal/wayland"
	"github.com/bnema/waycursor/internal/wayland/wltest"
	"github.com/bnema/waycursor/internal/xcursor/xcursortest"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindShm(t *testing.T) (*wayland.Display, *client.Shm, *wltest.Server) {
	t.Helper()
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	srv, socket := wltest.NewServer(t)
	d, err := wayland.Connect(socket)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	registry, err := d.GetRegistry()
	require.NoError(t, err)

	var s *client.Shm
	registry.SetGlobalHandler(func(g client.RegistryGlobalEvent) {
		if g.Interface == wayland.ShmInterface {
			s = client.NewShm(d.Context())
			require.NoError(t, registry.Bind(g.Name, g.Interface, 1, s))
		}
	})
	require.NoError(t, d.Roundtrip())
	require.NotNil(t, s)
	return d, s, srv
}

func writeTheme(t *testing.T) string {
	t.Helper()
	return xcursortest.WriteTheme(t, t.TempDir(), "test", map[string][]xcursortest.Frame{
		"left_ptr": xcursortest.Square(24, 1, 0),
		"wait":     xcursortest.Square(24, 6, 100),
	})
}

func TestLoad(t *testing.T) {
	d, s, srv := bindShm(t)
	root := writeTheme(t)

	theme, err := Load(s, "test", 24, []string{root})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"left_ptr", "wait"}, theme.Names())
	assert.Equal(t, 7*24*24*4, theme.MemorySize())

	ptr, ok := theme.Cursor("left_ptr")
	require.True(t, ok)
	require.Len(t, ptr.Images, 1)
	assert.Equal(t, int32(24), ptr.Images[0].Width)
	assert.Equal(t, int32(12), ptr.Images[0].HotspotX)

	wait, ok := theme.Cursor("wait")
	require.True(t, ok)
	assert.Len(t, wait.Images, 6)
	assert.Equal(t, uint32(600), wait.Period())

	_, ok = theme.Cursor("bogus")
	assert.False(t, ok)

	require.NoError(t, d.Roundtrip())
	pools := srv.RequestsNamed("wl_shm.create_pool")
	require.Len(t, pools, 1)
	assert.Equal(t, int32(7*24*24*4), pools[0].Args[1])
	assert.Empty(t, srv.RequestsNamed("wl_shm_pool.create_buffer"), "buffers are created lazily")

	require.NoError(t, theme.Destroy())
}

func TestImageBufferIsCreatedOnce(t *testing.T) {
	d, s, srv := bindShm(t)
	theme, err := Load(s, "test", 24, []string{writeTheme(t)})
	require.NoError(t, err)

	wait, _ := theme.Cursor("wait")
	first, err := wait.Images[2].Buffer()
	require.NoError(t, err)
	again, err := wait.Images[2].Buffer()
	require.NoError(t, err)
	assert.Same(t, first, again)

	require.NoError(t, d.Roundtrip())
	created := srv.RequestsNamed("wl_shm_pool.create_buffer")
	require.Len(t, created, 1)

	// id, offset, width, height, stride, format; left_ptr is packed first
	args := created[0].Args
	assert.Equal(t, int32(3*24*24*4), args[1])
	assert.Equal(t, int32(24), args[2])
	assert.Equal(t, int32(24), args[3])
	assert.Equal(t, int32(24*4), args[4])
	assert.Equal(t, wayland.FormatARGB8888, args[5])

	require.NoError(t, theme.Destroy())
	require.NoError(t, d.Roundtrip())
	assert.Len(t, srv.RequestsNamed("wl_buffer.destroy"), 1)
	assert.Len(t, srv.RequestsNamed("wl_shm_pool.destroy"), 1)

	_, err = wait.Images[0].Buffer()
	assert.Error(t, err)
}

func TestLoadMissingTheme(t *testing.T) {
	_, s, _ := bindShm(t)

	_, err := Load(s, "nope", 24, []string{t.TempDir()})
	assert.ErrorIs(t, err, ErrThemeNotFound)
}

func TestLoadNeedsRuntimeDir(t *testing.T) {
	_, s, _ := bindShm(t)
	root := writeTheme(t)
	t.Setenv("XDG_RUNTIME_DIR", "")

	_, err := Load(s, "test", 24, []string{root})
	assert.Error(t, err)
}

func TestLoadWithoutShm(t *testing.T) {
	_, err := Load(nil, "test", 24, nil)
	assert.Error(t, err)
}

func frames(delays ...uint32) *Cursor {
	c := &Cursor{Name: "test"}
	for _, d := range delays {
		c.Images = append(c.Images, &Image{Width: 1, Height: 1, Delay: d})
	}
	return c
}

func TestFrameAt(t *testing.T) {
	tests := []struct {
		name   string
		cursor *Cursor
		time   uint32
		want   int
	}{
		{name: "single image", cursor: frames(0), time: 12345, want: 0},
		{name: "single image with delay", cursor: frames(100), time: 150, want: 0},
		{name: "start", cursor: frames(100, 100, 100), time: 0, want: 0},
		{name: "inside first", cursor: frames(100, 100, 100), time: 99, want: 0},
		{name: "boundary", cursor: frames(100, 100, 100), time: 100, want: 1},
		{name: "last", cursor: frames(100, 100, 100), time: 250, want: 2},
		{name: "wraps", cursor: frames(100, 100, 100), time: 310, want: 0},
		{name: "uneven delays", cursor: frames(50, 200, 50), time: 240, want: 1},
		{name: "uneven delays tail", cursor: frames(50, 200, 50), time: 260, want: 2},
		{name: "zero delay is skipped", cursor: frames(100, 0, 100), time: 150, want: 2},
		{name: "zero delay at boundary", cursor: frames(100, 0, 100), time: 100, want: 2},
		{name: "leading zero delay", cursor: frames(0, 100, 100), time: 0, want: 1},
		{name: "trailing zero delay wraps", cursor: frames(100, 100, 0), time: 199, want: 1},
		{name: "all zero", cursor: frames(0, 0, 0), time: 1000, want: 0},
		{name: "large time", cursor: frames(100, 100, 100, 100, 100, 100), time: 4294967295, want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cursor.FrameAt(tt.time))
		})
	}
}

func TestFrameAtCyclesThroughEveryImage(t *testing.T) {
	c := frames(100, 100, 100, 100, 100, 100)

	var seen []int
	for ts := uint32(0); ts < 600; ts += 100 {
		seen = append(seen, c.FrameAt(ts))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, seen)
	assert.Equal(t, c.FrameAt(0), c.FrameAt(600))
}
