// Package xcursortest builds Xcursor files and theme directories for tests.
package xcursortest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/waycursor/internal/xcursor"
)

// Frame describes one image to encode. Pixels default to a solid fill.
type Frame struct {
	NominalSize   uint32
	Width, Height uint32
	XHot, YHot    uint32
	Delay         uint32
	Fill          uint32
}

// Encode produces an Xcursor file holding frames in order, with a comment
// chunk in front so readers have to honor the table of contents.
func Encode(frames ...Frame) []byte {
	const (
		fileHeaderLen  = 16
		tocLen         = 12
		imageHeaderLen = 36
		commentLen     = 20
	)
	comment := "test"

	ntoc := len(frames) + 1
	pos := uint32(fileHeaderLen + tocLen*ntoc)

	var toc, body bytes.Buffer
	le := binary.LittleEndian

	// comment chunk: header, type, subtype, version, length, bytes
	_ = binary.Write(&toc, le, []uint32{xcursor.CommentType, 1, pos})
	_ = binary.Write(&body, le, []uint32{commentLen, xcursor.CommentType, 1, 1, uint32(len(comment))})
	body.WriteString(comment)
	pos += commentLen + uint32(len(comment))

	for _, f := range frames {
		_ = binary.Write(&toc, le, []uint32{xcursor.ImageType, f.NominalSize, pos})
		_ = binary.Write(&body, le, []uint32{
			imageHeaderLen, xcursor.ImageType, f.NominalSize, 1,
			f.Width, f.Height, f.XHot, f.YHot, f.Delay,
		})
		pixels := make([]uint32, f.Width*f.Height)
		for i := range pixels {
			pixels[i] = f.Fill
		}
		_ = binary.Write(&body, le, pixels)
		pos += imageHeaderLen + 4*f.Width*f.Height
	}

	var out bytes.Buffer
	_ = binary.Write(&out, le, []uint32{0x72756358, fileHeaderLen, 0x10000, uint32(ntoc)})
	out.Write(toc.Bytes())
	out.Write(body.Bytes())
	return out.Bytes()
}

// Square returns n frames of a size x size cursor, each shown for delay ms.
func Square(size uint32, n int, delay uint32) []Frame {
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = Frame{
			NominalSize: size,
			Width:       size,
			Height:      size,
			XHot:        size / 2,
			YHot:        size / 2,
			Delay:       delay,
			Fill:        0xff000000 | uint32(i),
		}
	}
	return frames
}

// WriteTheme writes cursors into root/theme/cursors and returns root. When
// inherits is non-empty an index.theme naming them is written too.
func WriteTheme(t testing.TB, root, theme string, cursors map[string][]Frame, inherits ...string) string {
	t.Helper()

	dir := filepath.Join(root, theme, "cursors")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for name, frames := range cursors {
		if err := os.WriteFile(filepath.Join(dir, name), Encode(frames...), 0o644); err != nil {
			t.Fatalf("write cursor %s: %v", name, err)
		}
	}

	if len(inherits) > 0 {
		index := "[Icon Theme]\nName=" + theme + "\n"
		index += "Inherits="
		for i, parent := range inherits {
			if i > 0 {
				index += ","
			}
			index += parent
		}
		index += "\n"
		if err := os.WriteFile(filepath.Join(root, theme, "index.theme"), []byte(index), 0o644); err != nil {
			t.Fatalf("write index.theme: %v", err)
		}
	}
	return root
}
