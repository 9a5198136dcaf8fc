package viewer

import (
	"fmt"
	"strings"

	"github.com/bnema/waycursor/internal/logger"
	"github.com/bnema/waycursor/internal/wayland"
	"github.com/rajveermalviya/go-wayland/wayland/client"
)

// bindVersion is requested for every capability whatever the compositor
// advertises; the viewer only uses version 1 requests.
const bindVersion = 1

// Capability is one of the globals the viewer cannot work without.
type Capability int

const (
	CapCompositor Capability = iota
	CapShell
	CapShm
)

var requiredCapabilities = []Capability{CapCompositor, CapShell, CapShm}

// Interface returns the wl interface name of the capability.
func (c Capability) Interface() string {
	switch c {
	case CapCompositor:
		return wayland.CompositorInterface
	case CapShell:
		return wayland.ShellInterface
	case CapShm:
		return wayland.ShmInterface
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

func (c Capability) String() string {
	return c.Interface()
}

func capabilityFor(iface string) (Capability, bool) {
	for _, c := range requiredCapabilities {
		if c.Interface() == iface {
			return c, true
		}
	}
	return 0, false
}

// MissingCapabilitiesError lists the required globals the compositor never
// advertised.
type MissingCapabilitiesError struct {
	Missing []Capability
}

func (e *MissingCapabilitiesError) Error() string {
	names := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		names[i] = c.Interface()
	}
	return fmt.Sprintf("compositor does not provide %s", strings.Join(names, ", "))
}

// handleGlobal binds the three capabilities, each at most once. Anything
// else is ignored, as are global removals.
func (v *Viewer) handleGlobal(g client.RegistryGlobalEvent) {
	c, ok := capabilityFor(g.Interface)
	if !ok {
		logger.Debug("ignoring global", "interface", g.Interface, "version", g.Version)
		return
	}
	if v.bound(c) {
		return
	}

	ctx := v.display.Context()
	var proxy client.Proxy
	switch c {
	case CapCompositor:
		proxy = client.NewCompositor(ctx)
	case CapShell:
		proxy = client.NewShell(ctx)
	case CapShm:
		shm := client.NewShm(ctx)
		shm.SetFormatHandler(v.handleShmFormat)
		proxy = shm
	}

	if err := v.registry.Bind(g.Name, g.Interface, bindVersion, proxy); err != nil {
		ctx.Unregister(proxy)
		if v.bindErr == nil {
			v.bindErr = fmt.Errorf("failed to bind %s: %w", g.Interface, err)
		}
		return
	}

	switch p := proxy.(type) {
	case *client.Compositor:
		v.compositor = p
	case *client.Shell:
		v.shell = p
	case *client.Shm:
		v.shm = p
	}
	logger.Debug("bound global", "interface", g.Interface, "name", g.Name, "advertised", g.Version, "version", bindVersion)
}

func (v *Viewer) handleShmFormat(e client.ShmFormatEvent) {
	v.shmFormats = append(v.shmFormats, e.Format)
}

func (v *Viewer) bound(c Capability) bool {
	switch c {
	case CapCompositor:
		return v.compositor != nil
	case CapShell:
		return v.shell != nil
	case CapShm:
		return v.shm != nil
	}
	return false
}

func (v *Viewer) missing() []Capability {
	var out []Capability
	for _, c := range requiredCapabilities {
		if !v.bound(c) {
			out = append(out, c)
		}
	}
	return out
}
