// Package topology loads a compose descriptor and checks it against the
// deployment contract the server relies on: a redis cache with a durable
// named volume, a server built from source, a shared bridge network and
// an env file for both.
package topology

import (
	"errors"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

var (
	// ErrNoServices is returned when a descriptor declares no services.
	ErrNoServices = errors.New("descriptor declares no services")

	// ErrDescriptorNotFound is returned when no compose file exists at the
	// given path.
	ErrDescriptorNotFound = errors.New("compose descriptor not found")
)

// Loaders that can produce a Descriptor.
const (
	LoaderCompose = "compose-go"
	LoaderYAML    = "yaml"
)

// DefaultNetwork is the network compose attaches services to when they
// name none.
const DefaultNetwork = "default"

// Descriptor is the normalized view of a compose file.
type Descriptor struct {
	Path     string              `json:"path"`
	Loader   string              `json:"loader"`
	Services map[string]*Service `json:"services"`
	Volumes  map[string]Volume   `json:"volumes"`
	Networks map[string]Network  `json:"networks"`

	// LoaderError is set when compose-go rejected the file and the raw
	// YAML fallback produced this descriptor.
	LoaderError string `json:"loader_error,omitempty"`
}

// Service is one service declaration.
type Service struct {
	Name         string   `json:"name"`
	Image        string   `json:"image,omitempty"`
	BuildContext string   `json:"build_context,omitempty"`
	Restart      string   `json:"restart,omitempty"`
	Ports        []Port   `json:"ports,omitempty"`
	Volumes      []Mount  `json:"volumes,omitempty"`
	Networks     []string `json:"networks,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
	EnvFiles     []string `json:"env_files,omitempty"`
}

// Port is a published port mapping.
type Port struct {
	HostIP    string `json:"host_ip,omitempty"`
	Published string `json:"published,omitempty"`
	Target    uint32 `json:"target"`
	Protocol  string `json:"protocol,omitempty"`
}

// Mount types.
const (
	MountVolume = "volume"
	MountBind   = "bind"
	MountTmpfs  = "tmpfs"
)

// Mount is a volume or bind mount of a service.
type Mount struct {
	Type   string `json:"type"`
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
}

// Named reports whether the mount refers to a top-level named volume.
func (m Mount) Named() bool {
	return m.Type == MountVolume && m.Source != ""
}

// Volume is a top-level volume declaration.
type Volume struct {
	Name     string `json:"name"`
	Driver   string `json:"driver,omitempty"`
	External bool   `json:"external,omitempty"`
}

// Network is a top-level network declaration.
type Network struct {
	Name     string `json:"name"`
	Driver   string `json:"driver,omitempty"`
	External bool   `json:"external,omitempty"`
}

// EffectiveDriver returns the driver compose would use. An empty driver
// means bridge on a single engine.
func (n Network) EffectiveDriver() string {
	if n.Driver == "" {
		return "bridge"
	}
	return n.Driver
}

// Dir returns the directory relative paths in the descriptor resolve against.
func (d *Descriptor) Dir() string {
	return filepath.Dir(d.Path)
}

// ServiceNames returns the service names in sorted order.
func (d *Descriptor) ServiceNames() []string {
	names := make([]string, 0, len(d.Services))
	for name := range d.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvePath resolves p against the descriptor directory.
func (d *Descriptor) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(d.Dir(), p)
}

// normalize applies the compose defaults both loaders share: services
// without networks join "default", which is declared implicitly.
func (d *Descriptor) normalize() {
	if d.Volumes == nil {
		d.Volumes = map[string]Volume{}
	}
	if d.Networks == nil {
		d.Networks = map[string]Network{}
	}
	for _, svc := range d.Services {
		if len(svc.Networks) == 0 {
			svc.Networks = []string{DefaultNetwork}
			if _, ok := d.Networks[DefaultNetwork]; !ok {
				d.Networks[DefaultNetwork] = Network{Name: DefaultNetwork}
			}
		}
		sort.Strings(svc.Networks)
		sort.Strings(svc.DependsOn)
		svc.Networks = slices.Compact(svc.Networks)
	}
}

// imageName strips registry, namespace and tag: "docker.io/library/redis:7"
// becomes "redis".
func imageName(image string) string {
	name := image
	if i := strings.LastIndex(name, "@"); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[:i]
	}
	return name
}
