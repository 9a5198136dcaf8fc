// Package cursor turns an Xcursor theme into compositor buffers. All images
// of a theme share one shared memory pool; a wl_buffer is created for an
// image the first time it is shown.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bnema/waycursor/internal/logger"
	"github.com/bnema/waycursor/internal/shm"
	"github.com/bnema/waycursor/internal/wayland"
	"github.com/bnema/waycursor/internal/xcursor"
	"github.com/dustin/go-humanize"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"go.uber.org/multierr"
)

// ErrThemeNotFound is returned when a theme yields no cursors at all.
var ErrThemeNotFound = errors.New("cursor theme not found")

// PoolCreator shares a file descriptor with the compositor as a pool.
// *client.Shm implements it.
type PoolCreator interface {
	CreatePool(fd int, size int32) (*client.ShmPool, error)
}

// Theme is a loaded cursor theme. It is read-only once loaded and must
// outlive every surface showing one of its buffers.
type Theme struct {
	Name string
	Size int

	cursors map[string]*Cursor
	names   []string

	mem  *shm.Pool
	pool *client.ShmPool
}

// Cursor is a named, non-empty sequence of images.
type Cursor struct {
	Name   string
	Images []*Image
}

// Image is one frame of a cursor.
type Image struct {
	Width, Height int32
	HotspotX      int32
	HotspotY      int32
	// Delay is the display time in milliseconds.
	Delay uint32

	theme  *Theme
	offset int32
	buffer *client.Buffer
}

// Load reads the named theme at size from searchPaths (the Xcursor library
// path when empty) and uploads every image into one shared memory pool.
func Load(shmGlobal PoolCreator, name string, size int, searchPaths []string) (*Theme, error) {
	if shmGlobal == nil {
		return nil, errors.New("wl_shm is not bound")
	}

	loaded := xcursor.LoadTheme(name, size, searchPaths)
	if len(loaded) == 0 {
		return nil, fmt.Errorf("%w: %q at size %d", ErrThemeNotFound, name, size)
	}

	total := 0
	for _, c := range loaded {
		for _, img := range c.Images {
			total += int(img.Width) * int(img.Height) * 4
		}
	}
	if total > 1<<31-1 {
		return nil, fmt.Errorf("theme %q is too large: %s", name, humanize.IBytes(uint64(total)))
	}

	mem, err := shm.New(total)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate theme memory: %w", err)
	}

	t := &Theme{
		Name:    name,
		Size:    size,
		cursors: make(map[string]*Cursor, len(loaded)),
		mem:     mem,
	}

	data := mem.Bytes()
	offset := 0
	for _, c := range loaded {
		cur := &Cursor{Name: c.Name, Images: make([]*Image, 0, len(c.Images))}
		for _, img := range c.Images {
			for i, px := range img.Pixels {
				binary.LittleEndian.PutUint32(data[offset+i*4:], px)
			}
			cur.Images = append(cur.Images, &Image{
				Width:    int32(img.Width),
				Height:   int32(img.Height),
				HotspotX: int32(img.XHot),
				HotspotY: int32(img.YHot),
				Delay:    img.Delay,
				theme:    t,
				offset:   int32(offset),
			})
			offset += len(img.Pixels) * 4
		}
		t.cursors[c.Name] = cur
		t.names = append(t.names, c.Name)
	}

	t.pool, err = shmGlobal.CreatePool(mem.Fd(), int32(total))
	if err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("failed to create shm pool: %w", err)
	}

	logger.Infof("Loaded cursor theme %q: %d cursors, %s shared memory", name, len(t.names), humanize.IBytes(uint64(total)))
	return t, nil
}

// Cursor looks up a cursor by name.
func (t *Theme) Cursor(name string) (*Cursor, bool) {
	c, ok := t.cursors[name]
	return c, ok
}

// Names returns cursor names in load order.
func (t *Theme) Names() []string {
	return append([]string(nil), t.names...)
}

// MemorySize returns the size of the shared pool in bytes.
func (t *Theme) MemorySize() int {
	if t.mem == nil {
		return 0
	}
	return t.mem.Size()
}

// Destroy releases every buffer, the pool and the mapped memory.
func (t *Theme) Destroy() error {
	var err error
	for _, name := range t.names {
		for _, img := range t.cursors[name].Images {
			if img.buffer != nil {
				err = multierr.Append(err, img.buffer.Destroy())
				img.buffer = nil
			}
		}
	}
	if t.pool != nil {
		err = multierr.Append(err, t.pool.Destroy())
		t.pool = nil
	}
	if t.mem != nil {
		err = multierr.Append(err, t.mem.Close())
		t.mem = nil
	}
	return err
}

// Buffer returns the wl_buffer for the image, creating it on first use.
func (img *Image) Buffer() (*client.Buffer, error) {
	if img.buffer != nil {
		return img.buffer, nil
	}
	if img.theme.pool == nil {
		return nil, errors.New("cursor theme destroyed")
	}

	b, err := img.theme.pool.CreateBuffer(img.offset, img.Width, img.Height, img.Width*4, wayland.FormatARGB8888)
	if err != nil {
		return nil, fmt.Errorf("failed to create cursor buffer: %w", err)
	}
	img.buffer = b
	return b, nil
}

// Period returns the total animation time in milliseconds.
func (c *Cursor) Period() uint32 {
	var total uint32
	for _, img := range c.Images {
		total += img.Delay
	}
	return total
}

// FrameAt returns the index of the image to show at time t (milliseconds,
// any epoch): the image k with d0+...+dk-1 <= t mod period < d0+...+dk.
// Images with a zero delay are never selected while the period is positive.
func (c *Cursor) FrameAt(t uint32) int {
	if len(c.Images) <= 1 {
		return 0
	}
	total := c.Period()
	if total == 0 {
		return 0
	}

	t %= total
	for i, img := range c.Images {
		if t < img.Delay {
			return i
		}
		t -= img.Delay
	}
	return 0
}
