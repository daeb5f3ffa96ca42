package stack

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/marmos91/stackd/pkg/topology"
)

// ErrProjectNotFound is returned when the engine knows no container of
// the project.
var ErrProjectNotFound = errors.New("no containers found for compose project")

// Snapshot is the state of a compose project at one point in time.
type Snapshot struct {
	Project    string        `json:"project"`
	Containers []Container   `json:"containers"`
	Volumes    []VolumeInfo  `json:"volumes"`
	Networks   []NetworkInfo `json:"networks"`
}

// Inspect collects the containers, volumes and networks of project.
func Inspect(ctx context.Context, engine Engine, project string) (*Snapshot, error) {
	containers, err := engine.Containers(ctx, project)
	if err != nil {
		return nil, err
	}
	if len(containers) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrProjectNotFound, project)
	}
	volumes, err := engine.Volumes(ctx, project)
	if err != nil {
		return nil, err
	}
	networks, err := engine.Networks(ctx, project)
	if err != nil {
		return nil, err
	}

	sort.Slice(containers, func(i, j int) bool { return containers[i].Service < containers[j].Service })
	return &Snapshot{Project: project, Containers: containers, Volumes: volumes, Networks: networks}, nil
}

// Service returns the container of a compose service.
func (s *Snapshot) Service(name string) (Container, bool) {
	for _, c := range s.Containers {
		if c.Service == name {
			return c, true
		}
	}
	return Container{}, false
}

func (s *Snapshot) network(name string) (NetworkInfo, bool) {
	for _, n := range s.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return NetworkInfo{}, false
}

func (s *Snapshot) Headers() []string {
	return []string{"Service", "Container", "State", "Ports", "Networks"}
}

func (s *Snapshot) Rows() [][]string {
	rows := make([][]string, 0, len(s.Containers))
	for _, c := range s.Containers {
		ports := make([]string, 0, len(c.Ports))
		for _, p := range c.Ports {
			ports = append(ports, fmt.Sprintf("%d->%d/%s", p.Public, p.Private, p.Protocol))
		}
		rows = append(rows, []string{c.Service, c.Name, c.State, strings.Join(ports, ","), strings.Join(c.Networks, ",")})
	}
	return rows
}

// Verify checks the running project against c: the expected container and
// named volume counts, both containers running and publishing their ports,
// the cache data directory on a named volume, and a shared network with
// the contract's driver.
func Verify(s *Snapshot, c topology.Contract) *topology.Report {
	r := &topology.Report{Source: "project " + s.Project}

	if c.Services > 0 && len(s.Containers) != c.Services {
		r.Add(topology.SeverityError, topology.RuleContainerCount, "", "expected %d containers, found %d", c.Services, len(s.Containers))
	}
	if c.NamedVolumes > 0 && len(s.Volumes) != c.NamedVolumes {
		r.Add(topology.SeverityError, topology.RuleVolumeCount, "", "expected %d named volume(s), found %d", c.NamedVolumes, len(s.Volumes))
	}

	cache, cacheOK := verifyService(s, c.Cache, r)
	server, serverOK := verifyService(s, c.Server, r)

	if cacheOK && serverOK && c.NetworkDriver != "" {
		var shared []string
		for _, n := range cache.Networks {
			if slices.Contains(server.Networks, n) {
				shared = append(shared, n)
			}
		}
		switch {
		case len(shared) == 0:
			r.Add(topology.SeverityError, topology.RuleNetworkShared, "", "%s and %s share no network", cache.Name, server.Name)
		case !slices.ContainsFunc(shared, func(name string) bool {
			n, ok := s.network(name)
			return ok && n.Driver == c.NetworkDriver
		}):
			r.Add(topology.SeverityError, topology.RuleNetworkDriver, "", "no shared network uses the %s driver (shared: %v)", c.NetworkDriver, shared)
		}
	}

	r.Sort()
	return r
}

func verifyService(s *Snapshot, sc topology.ServiceContract, r *topology.Report) (Container, bool) {
	if sc.Name == "" {
		return Container{}, false
	}
	ctr, ok := s.Service(sc.Name)
	if !ok {
		r.Add(topology.SeverityError, topology.RuleServiceMissing, sc.Name, "no container runs service %q", sc.Name)
		return Container{}, false
	}

	if !ctr.Running() {
		r.Add(topology.SeverityError, topology.RuleContainerState, sc.Name, "container %s is %s", ctr.Name, ctr.State)
	}
	if ctr.Unhealthy() {
		r.Add(topology.SeverityWarning, topology.RuleContainerHealth, sc.Name, "container %s reports an unhealthy healthcheck", ctr.Name)
	}

	if sc.Port != 0 {
		published := slices.ContainsFunc(ctr.Ports, func(p PublishedPort) bool {
			return uint32(p.Public) == sc.Port && uint32(p.Private) == sc.Port
		})
		if !published {
			r.Add(topology.SeverityError, topology.RuleContainerPort, sc.Name, "port %s is not published on the host", strconv.FormatUint(uint64(sc.Port), 10))
		}
	}

	if sc.VolumeTarget != "" {
		onVolume := slices.ContainsFunc(ctr.Mounts, func(m ContainerMount) bool {
			return m.Destination == sc.VolumeTarget && m.Type == topology.MountVolume && m.Name != ""
		})
		if !onVolume {
			r.Add(topology.SeverityError, topology.RuleVolumeMount, sc.Name, "%s is not backed by a named volume", sc.VolumeTarget)
		}
	}
	return ctr, true
}
