// Package stack inspects a running compose project through the Docker
// Engine and probes its endpoints.
package stack

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"

	"github.com/marmos91/stackd/internal/logger"
)

// Compose labels set on every resource of a project.
const (
	LabelProject = "com.docker.compose.project"
	LabelService = "com.docker.compose.service"
	LabelVolume  = "com.docker.compose.volume"
	LabelNetwork = "com.docker.compose.network"
)

// Container is a project container as the engine reports it.
type Container struct {
	Name     string           `json:"name"`
	Service  string           `json:"service"`
	Image    string           `json:"image"`
	State    string           `json:"state"`
	Health   string           `json:"health,omitempty"`
	Ports    []PublishedPort  `json:"ports,omitempty"`
	Networks []string         `json:"networks,omitempty"`
	Mounts   []ContainerMount `json:"mounts,omitempty"`
}

// Running reports whether the container is up.
func (c Container) Running() bool {
	return c.State == string(container.StateRunning)
}

// Unhealthy reports whether the container's healthcheck is failing. A
// container without a healthcheck is never unhealthy.
func (c Container) Unhealthy() bool {
	return c.Health == string(container.Unhealthy)
}

// PublishedPort is a container port bound on the host.
type PublishedPort struct {
	Public   uint16 `json:"public"`
	Private  uint16 `json:"private"`
	Protocol string `json:"protocol"`
}

// ContainerMount is a mount of a container. Name is set for volumes.
type ContainerMount struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Destination string `json:"destination"`
}

// VolumeInfo is a project volume.
type VolumeInfo struct {
	Name   string `json:"name"`
	Key    string `json:"key"`
	Driver string `json:"driver"`
}

// NetworkInfo is a project network.
type NetworkInfo struct {
	Name   string `json:"name"`
	Key    string `json:"key"`
	Driver string `json:"driver"`
}

// Engine lists the resources of a compose project.
type Engine interface {
	Containers(ctx context.Context, project string) ([]Container, error)
	Volumes(ctx context.Context, project string) ([]VolumeInfo, error)
	Networks(ctx context.Context, project string) ([]NetworkInfo, error)
	Close() error
}

// DockerEngine is the Engine backed by the Docker Engine API.
type DockerEngine struct {
	client *client.Client
}

var _ Engine = (*DockerEngine)(nil)

// NewDockerEngine connects using the standard environment (DOCKER_HOST,
// DOCKER_CERT_PATH, ...).
func NewDockerEngine() (*DockerEngine, error) {
	c, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerEngine{client: c}, nil
}

func projectFilter(project string) client.Filters {
	return make(client.Filters).Add("label", LabelProject+"="+project)
}

// Containers lists every container of project, stopped ones included.
func (e *DockerEngine) Containers(ctx context.Context, project string) ([]Container, error) {
	list, err := e.client.ContainerList(ctx, client.ContainerListOptions{
		All:     true,
		Filters: projectFilter(project),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers (project=%s): %w", project, err)
	}

	out := make([]Container, 0, len(list.Items))
	for _, c := range list.Items {
		ctr := Container{
			Service: c.Labels[LabelService],
			Image:   c.Image,
			State:   string(c.State),
		}
		if len(c.Names) > 0 {
			ctr.Name = strings.TrimPrefix(c.Names[0], "/")
		}
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				continue
			}
			ctr.Ports = append(ctr.Ports, PublishedPort{Public: p.PublicPort, Private: p.PrivatePort, Protocol: p.Type})
		}
		if c.NetworkSettings != nil {
			for name := range c.NetworkSettings.Networks {
				ctr.Networks = append(ctr.Networks, name)
			}
			sort.Strings(ctr.Networks)
		}
		for _, m := range c.Mounts {
			ctr.Mounts = append(ctr.Mounts, ContainerMount{Type: string(m.Type), Name: m.Name, Destination: m.Destination})
		}

		health, err := e.health(ctx, c.ID)
		if err != nil {
			// Removed between list and inspect.
			if errdefs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		ctr.Health = health
		out = append(out, ctr)
	}

	logger.Debug("Listed project containers", logger.Project(project), "count", len(out))
	return out, nil
}

// health returns the healthcheck status of a container, empty when the
// image defines no healthcheck.
func (e *DockerEngine) health(ctx context.Context, id string) (string, error) {
	inspect, err := e.client.ContainerInspect(ctx, id, client.ContainerInspectOptions{})
	if err != nil {
		return "", fmt.Errorf("inspect container %q: %w", id, err)
	}
	state := inspect.Container.State
	if state == nil || state.Health == nil {
		return "", nil
	}
	return string(state.Health.Status), nil
}

// Volumes lists the volumes compose created for project.
func (e *DockerEngine) Volumes(ctx context.Context, project string) ([]VolumeInfo, error) {
	list, err := e.client.VolumeList(ctx, client.VolumeListOptions{Filters: projectFilter(project)})
	if err != nil {
		return nil, fmt.Errorf("list volumes (project=%s): %w", project, err)
	}

	out := make([]VolumeInfo, 0, len(list.Items))
	for _, v := range list.Items {
		if v.Name == "" {
			continue
		}
		out = append(out, VolumeInfo{Name: v.Name, Key: v.Labels[LabelVolume], Driver: v.Driver})
	}
	return out, nil
}

// Networks lists the networks compose created for project.
func (e *DockerEngine) Networks(ctx context.Context, project string) ([]NetworkInfo, error) {
	list, err := e.client.NetworkList(ctx, client.NetworkListOptions{Filters: projectFilter(project)})
	if err != nil {
		return nil, fmt.Errorf("list networks (project=%s): %w", project, err)
	}

	out := make([]NetworkInfo, 0, len(list.Items))
	for _, n := range list.Items {
		out = append(out, NetworkInfo{Name: n.Name, Key: n.Labels[LabelNetwork], Driver: n.Driver})
	}
	return out, nil
}

func (e *DockerEngine) Close() error {
	return e.client.Close()
}
