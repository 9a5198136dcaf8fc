// Package xcursor decodes Xcursor image files and locates cursor themes the
// way libXcursor does.
package xcursor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	magic          = 0x72756358 // "Xcur"
	fileHeaderLen  = 4 * 4
	imageHeaderLen = 9 * 4

	// ImageType is the chunk type of an image; its subtype is the
	// nominal size.
	ImageType = 0xfffd0002
	// CommentType is the chunk type of a comment.
	CommentType = 0xfffe0001

	// MaxImageSize bounds width and height of a single image.
	MaxImageSize = 0x7fff

	maxTocEntries = 0x10000
)

var (
	// ErrBadMagic is returned for files that are not Xcursor files.
	ErrBadMagic = errors.New("xcursor: bad magic")
	// ErrNoImages is returned for files without any image chunk.
	ErrNoImages = errors.New("xcursor: no images")
)

// Image is one decoded frame.
type Image struct {
	NominalSize uint32
	Width       uint32
	Height      uint32
	XHot        uint32
	YHot        uint32
	// Delay is the display time in milliseconds.
	Delay uint32
	// Pixels holds Width*Height premultiplied ARGB values, row-major.
	Pixels []uint32
}

type fileHeader struct {
	Magic   uint32
	Header  uint32
	Version uint32
	NToc    uint32
}

type tocEntry struct {
	Type     uint32
	Subtype  uint32
	Position uint32
}

type imageHeader struct {
	Header  uint32
	Type    uint32
	Subtype uint32
	Version uint32
	Width   uint32
	Height  uint32
	XHot    uint32
	YHot    uint32
	Delay   uint32
}

// DecodeFile decodes the images of the nominal size closest to size.
func DecodeFile(path string, size int) ([]*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	images, err := Decode(f, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return images, nil
}

// Decode reads every image whose nominal size is closest to size, in file
// order. Ties go to the size listed first.
func Decode(r io.ReadSeeker, size int) ([]*Image, error) {
	tocs, err := readTocs(r)
	if err != nil {
		return nil, err
	}

	best, count := bestSize(tocs, uint32(max(size, 0)))
	if count == 0 {
		return nil, ErrNoImages
	}

	images := make([]*Image, 0, count)
	for _, toc := range tocs {
		if toc.Type != ImageType || toc.Subtype != best {
			continue
		}
		img, err := readImage(r, toc)
		if err != nil {
			return nil, fmt.Errorf("read image at %d: %w", toc.Position, err)
		}
		images = append(images, img)
	}
	return images, nil
}

func readTocs(r io.ReadSeeker) ([]tocEntry, error) {
	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if hdr.Magic != magic {
		return nil, ErrBadMagic
	}
	if hdr.Header < fileHeaderLen {
		return nil, fmt.Errorf("header length %d too small", hdr.Header)
	}
	if hdr.NToc > maxTocEntries {
		return nil, fmt.Errorf("too many toc entries: %d", hdr.NToc)
	}

	if skip := int64(hdr.Header) - fileHeaderLen; skip > 0 {
		if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("seek past header: %w", err)
		}
	}

	tocs := make([]tocEntry, hdr.NToc)
	if err := binary.Read(r, binary.LittleEndian, tocs); err != nil {
		return nil, fmt.Errorf("read toc: %w", err)
	}
	return tocs, nil
}

func bestSize(tocs []tocEntry, size uint32) (best uint32, count int) {
	for _, toc := range tocs {
		if toc.Type != ImageType {
			continue
		}
		switch {
		case best == 0 || dist(toc.Subtype, size) < dist(best, size):
			best, count = toc.Subtype, 1
		case toc.Subtype == best:
			count++
		}
	}
	return best, count
}

func dist(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func readImage(r io.ReadSeeker, toc tocEntry) (*Image, error) {
	if _, err := r.Seek(int64(toc.Position), io.SeekStart); err != nil {
		return nil, err
	}

	var hdr imageHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}

	switch {
	case hdr.Type != toc.Type || hdr.Subtype != toc.Subtype:
		return nil, fmt.Errorf("chunk %#x/%d does not match toc %#x/%d", hdr.Type, hdr.Subtype, toc.Type, toc.Subtype)
	case hdr.Header < imageHeaderLen:
		return nil, fmt.Errorf("image header length %d too small", hdr.Header)
	case hdr.Width == 0 || hdr.Height == 0:
		return nil, fmt.Errorf("empty image %dx%d", hdr.Width, hdr.Height)
	case hdr.Width > MaxImageSize || hdr.Height > MaxImageSize:
		return nil, fmt.Errorf("image too large: %dx%d", hdr.Width, hdr.Height)
	case hdr.XHot > hdr.Width || hdr.YHot > hdr.Height:
		return nil, fmt.Errorf("hotspot %d,%d outside %dx%d image", hdr.XHot, hdr.YHot, hdr.Width, hdr.Height)
	}

	if skip := int64(hdr.Header) - imageHeaderLen; skip > 0 {
		if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
			return nil, err
		}
	}

	pixels := make([]uint32, int(hdr.Width)*int(hdr.Height))
	if err := binary.Read(r, binary.LittleEndian, pixels); err != nil {
		return nil, fmt.Errorf("read pixels: %w", err)
	}

	return &Image{
		NominalSize: hdr.Subtype,
		Width:       hdr.Width,
		Height:      hdr.Height,
		XHot:        hdr.XHot,
		YHot:        hdr.YHot,
		Delay:       hdr.Delay,
		Pixels:      pixels,
	}, nil
}
