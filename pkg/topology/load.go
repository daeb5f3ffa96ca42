package topology

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/cli"
	composetypes "github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/stackd/internal/logger"
)

// DefaultFiles are the names looked up when Load is given a directory.
var DefaultFiles = []string{"compose.yaml", "compose.yml", "docker-compose.yaml", "docker-compose.yml"}

// Load reads the compose descriptor at path (a file or a directory holding
// one of DefaultFiles). It uses the compose-go project loader without
// interpolation and falls back to raw YAML when compose-go rejects the
// file, so a broken descriptor still gets a full contract report.
func Load(ctx context.Context, path string) (*Descriptor, error) {
	file, err := locate(path)
	if err != nil {
		return nil, err
	}

	desc, composeErr := loadCompose(ctx, file)
	if composeErr != nil {
		logger.Debug("Compose loader rejected descriptor, falling back to raw YAML",
			logger.File(file), logger.Err(composeErr))

		desc, err = loadYAML(file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w (compose loader: %v)", file, err, composeErr)
		}
		desc.LoaderError = composeErr.Error()
	}

	if len(desc.Services) == 0 {
		return nil, fmt.Errorf("%s: %w", file, ErrNoServices)
	}
	desc.normalize()
	return desc, nil
}

func locate(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrDescriptorNotFound, path)
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return abs, nil
	}

	for _, name := range DefaultFiles {
		candidate := filepath.Join(abs, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: none of %s in %s", ErrDescriptorNotFound, strings.Join(DefaultFiles, ", "), path)
}

func loadCompose(ctx context.Context, file string) (*Descriptor, error) {
	opts, err := cli.NewProjectOptions(
		[]string{file},
		cli.WithWorkingDirectory(filepath.Dir(file)),
		cli.WithInterpolation(false),
	)
	if err != nil {
		return nil, fmt.Errorf("project options: %w", err)
	}

	project, err := cli.ProjectFromOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	return fromProject(file, project), nil
}

func fromProject(file string, project *composetypes.Project) *Descriptor {
	desc := &Descriptor{
		Path:     file,
		Loader:   LoaderCompose,
		Services: make(map[string]*Service, len(project.Services)),
		Volumes:  make(map[string]Volume, len(project.Volumes)),
		Networks: make(map[string]Network, len(project.Networks)),
	}

	for name, sc := range project.Services {
		svc := &Service{
			Name:    name,
			Image:   sc.Image,
			Restart: sc.Restart,
		}
		if sc.Build != nil {
			svc.BuildContext = sc.Build.Context
		}
		for _, p := range sc.Ports {
			svc.Ports = append(svc.Ports, Port{
				HostIP:    p.HostIP,
				Published: p.Published,
				Target:    p.Target,
				Protocol:  p.Protocol,
			})
		}
		for _, v := range sc.Volumes {
			svc.Volumes = append(svc.Volumes, Mount{Type: v.Type, Source: v.Source, Target: v.Target})
		}
		for net := range sc.Networks {
			svc.Networks = append(svc.Networks, net)
		}
		for dep := range sc.DependsOn {
			svc.DependsOn = append(svc.DependsOn, dep)
		}
		for _, ef := range sc.EnvFiles {
			svc.EnvFiles = append(svc.EnvFiles, ef.Path)
		}
		desc.Services[name] = svc
	}

	for key, v := range project.Volumes {
		desc.Volumes[key] = Volume{Name: key, Driver: v.Driver, External: bool(v.External)}
	}
	for key, n := range project.Networks {
		desc.Networks[key] = Network{Name: key, Driver: n.Driver, External: bool(n.External)}
	}
	return desc
}

// loadYAML parses the descriptor without compose semantics, understanding
// both short and long syntax of the fields the contract looks at.
func loadYAML(file string) (*Descriptor, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}

	desc := &Descriptor{
		Path:     file,
		Loader:   LoaderYAML,
		Services: map[string]*Service{},
		Volumes:  map[string]Volume{},
		Networks: map[string]Network{},
	}

	services, _ := raw["services"].(map[string]any)
	for name, v := range services {
		m, _ := v.(map[string]any)
		svc := &Service{
			Name:      name,
			Image:     toString(m["image"]),
			Restart:   toString(m["restart"]),
			Ports:     parsePorts(m["ports"]),
			Volumes:   parseMounts(m["volumes"]),
			Networks:  names(m["networks"]),
			DependsOn: names(m["depends_on"]),
			EnvFiles:  parseEnvFiles(m["env_file"]),
		}
		switch b := m["build"].(type) {
		case string:
			svc.BuildContext = b
		case map[string]any:
			svc.BuildContext = toString(b["context"])
			if svc.BuildContext == "" {
				svc.BuildContext = "."
			}
		}
		desc.Services[name] = svc
	}

	volumes, _ := raw["volumes"].(map[string]any)
	for key, v := range volumes {
		m, _ := v.(map[string]any)
		desc.Volumes[key] = Volume{Name: key, Driver: toString(m["driver"]), External: toBool(m["external"])}
	}
	networks, _ := raw["networks"].(map[string]any)
	for key, v := range networks {
		m, _ := v.(map[string]any)
		desc.Networks[key] = Network{Name: key, Driver: toString(m["driver"]), External: toBool(m["external"])}
	}
	return desc, nil
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case map[string]any:
		// external: {name: ...}
		return true
	default:
		return false
	}
}

// names reads a list or a map keyed by name (networks, depends_on).
func names(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			out = append(out, toString(item))
		}
	case map[string]any:
		for name := range t {
			out = append(out, name)
		}
	}
	return out
}

func parseEnvFiles(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, toString(m["path"]))
				continue
			}
			out = append(out, toString(item))
		}
		return out
	}
	return nil
}

func parsePorts(v any) []Port {
	list, _ := v.([]any)
	var ports []Port
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			target, _ := strconv.ParseUint(toString(m["target"]), 10, 32)
			ports = append(ports, Port{
				HostIP:    toString(m["host_ip"]),
				Published: toString(m["published"]),
				Target:    uint32(target),
				Protocol:  toString(m["protocol"]),
			})
			continue
		}
		if p, ok := ParsePort(toString(item)); ok {
			ports = append(ports, p)
		}
	}
	return ports
}

// ParsePort parses the short port syntax: "8000", "8000:8000",
// "127.0.0.1:8000:8000" and an optional "/proto" suffix.
func ParsePort(s string) (Port, bool) {
	var p Port
	if i := strings.LastIndex(s, "/"); i >= 0 {
		p.Protocol = s[i+1:]
		s = s[:i]
	}

	parts := strings.Split(s, ":")
	var target string
	switch len(parts) {
	case 1:
		target = parts[0]
	case 2:
		p.Published, target = parts[0], parts[1]
	case 3:
		p.HostIP, p.Published, target = parts[0], parts[1], parts[2]
	default:
		return Port{}, false
	}

	n, err := strconv.ParseUint(target, 10, 32)
	if err != nil {
		return Port{}, false
	}
	p.Target = uint32(n)
	return p, true
}

func parseMounts(v any) []Mount {
	list, _ := v.([]any)
	var mounts []Mount
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			mounts = append(mounts, Mount{
				Type:   toString(m["type"]),
				Source: toString(m["source"]),
				Target: toString(m["target"]),
			})
			continue
		}
		mounts = append(mounts, ParseMount(toString(item)))
	}
	return mounts
}

// ParseMount parses the short volume syntax "source:target[:mode]". A
// source that looks like a path is a bind mount; a lone target is an
// anonymous volume.
func ParseMount(s string) Mount {
	parts := strings.Split(s, ":")
	if len(parts) == 1 {
		return Mount{Type: MountVolume, Target: parts[0]}
	}

	m := Mount{Type: MountVolume, Source: parts[0], Target: parts[1]}
	if strings.HasPrefix(m.Source, "/") || strings.HasPrefix(m.Source, ".") || strings.HasPrefix(m.Source, "~") {
		m.Type = MountBind
	}
	return m
}
