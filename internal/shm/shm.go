// Package shm allocates shared memory that can be handed to a compositor
// through wl_shm.
package shm

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// ErrNoRuntimeDir is returned when XDG_RUNTIME_DIR is unset.
var ErrNoRuntimeDir = errors.New("XDG_RUNTIME_DIR not set")

const filePattern = "waycursor-shared-*"

// CreateAnonymousFile creates an unlinked, preallocated file of size bytes
// under XDG_RUNTIME_DIR. The file is close-on-exec.
func CreateAnonymousFile(size int64) (*os.File, error) {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return nil, ErrNoRuntimeDir
	}

	f, err := os.CreateTemp(dir, filePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared memory file: %w", err)
	}
	// only the descriptor keeps the file alive from here on
	_ = os.Remove(f.Name())

	if err := allocate(int(f.Fd()), size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to allocate %d bytes: %w", size, err)
	}
	return f, nil
}

func allocate(fd int, size int64) error {
	for {
		err := unix.Fallocate(fd, 0, 0, size)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.ENOSYS):
			// tmpfs without fallocate support
			return unix.Ftruncate(fd, size)
		default:
			return err
		}
	}
}

// Pool is a shared memory region mapped into this process.
type Pool struct {
	file *os.File
	data []byte
}

// New creates and maps a pool of size bytes.
func New(size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid pool size %d", size)
	}

	f, err := CreateAnonymousFile(int64(size))
	if err != nil {
		return nil, err
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to map memory: %w", err)
	}

	return &Pool{file: f, data: data}, nil
}

// Bytes returns the mapped memory.
func (p *Pool) Bytes() []byte {
	return p.data
}

// Fd returns the descriptor to share with the compositor.
func (p *Pool) Fd() int {
	return int(p.file.Fd())
}

// Size returns the pool size in bytes.
func (p *Pool) Size() int {
	return len(p.data)
}

// Close unmaps the memory and closes the file.
func (p *Pool) Close() error {
	var err error
	if p.data != nil {
		if uerr := unix.Munmap(p.data); uerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to unmap memory: %w", uerr))
		}
		p.data = nil
	}
	if p.file != nil {
		err = multierr.Append(err, p.file.Close())
		p.file = nil
	}
	return err
}
