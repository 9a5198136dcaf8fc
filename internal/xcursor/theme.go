package xcursor

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// DefaultTheme is used when no theme name is given.
const DefaultTheme = "default"

var defaultLibraryPaths = []string{
	"~/.icons",
	"/usr/share/icons",
	"/usr/share/pixmaps",
	"~/.cursors",
	"/usr/share/cursors/xorg-x11",
	"/usr/X11R6/lib/X11/icons",
}

// Cursor is a named sequence of images loaded from a theme.
type Cursor struct {
	Name   string
	Images []*Image
}

// LibraryPaths returns the directories searched for themes. XCURSOR_PATH
// replaces the whole list; XDG_DATA_HOME moves the first entry.
func LibraryPaths() []string {
	if v := os.Getenv("XCURSOR_PATH"); v != "" {
		return filepath.SplitList(v)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" || !filepath.IsAbs(dataHome) {
		dataHome = "~/.local/share"
	}
	return append([]string{filepath.Join(dataHome, "icons")}, defaultLibraryPaths...)
}

// LoadTheme loads every cursor of a theme at the given size, including the
// cursors of the themes it inherits from. A name found earlier wins: search
// path order first, then inheritance order. Unreadable directories and files
// that fail to decode are skipped. When paths is empty LibraryPaths is used.
func LoadTheme(name string, size int, paths []string) []*Cursor {
	if name == "" {
		name = DefaultTheme
	}
	if len(paths) == 0 {
		paths = LibraryPaths()
	}

	l := &loader{
		size:    size,
		paths:   paths,
		seen:    make(map[string]bool),
		visited: make(map[string]bool),
	}
	l.load(name)
	return l.cursors
}

type loader struct {
	size    int
	paths   []string
	cursors []*Cursor
	seen    map[string]bool // cursor names
	visited map[string]bool // theme names, guards against Inherits cycles
}

func (l *loader) load(theme string) {
	if l.visited[theme] {
		return
	}
	l.visited[theme] = true

	var inherits []string
	for _, path := range l.paths {
		dir := filepath.Join(expandHome(path), theme)

		l.loadDir(filepath.Join(dir, "cursors"))

		if inherits == nil {
			inherits, _ = themeInherits(filepath.Join(dir, "index.theme"))
		}
	}

	for _, parent := range inherits {
		l.load(parent)
	}
}

func (l *loader) loadDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, ent := range entries {
		if t := ent.Type(); !t.IsRegular() && t != fs.ModeSymlink {
			continue
		}
		if l.seen[ent.Name()] {
			continue
		}

		images, err := DecodeFile(filepath.Join(dir, ent.Name()), l.size)
		if err != nil {
			continue
		}

		l.seen[ent.Name()] = true
		l.cursors = append(l.cursors, &Cursor{Name: ent.Name(), Images: images})
	}
}

// themeInherits returns the themes listed on the Inherits line of an
// index.theme file.
func themeInherits(index string) ([]string, error) {
	f, err := os.Open(index)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if !strings.HasPrefix(line, "Inherits") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) != "Inherits" {
			continue
		}

		return strings.FieldsFunc(value, func(c rune) bool {
			return c == ';' || c == ',' || c == ':' || unicode.IsSpace(c)
		}), nil
	}
	return nil, s.Err()
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home := os.Getenv("HOME")
	if home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
