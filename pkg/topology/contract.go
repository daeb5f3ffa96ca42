package topology

// Contract is what the stack must look like for the server to
// interoperate with its cache.
type Contract struct {
	Cache  ServiceContract `json:"cache"`
	Server ServiceContract `json:"server"`

	// Services is the exact number of services.
	Services int `json:"services"`

	// NamedVolumes is the exact number of top-level named volumes.
	NamedVolumes int `json:"named_volumes"`

	// NetworkDriver is the driver of the network both services share.
	NetworkDriver string `json:"network_driver"`
}

// ServiceContract describes one service of the contract. Zero values
// disable the corresponding rule.
type ServiceContract struct {
	Name string `json:"name"`

	// ImageName must equal the image's repository name ("redis" matches
	// "redis:7-alpine" and "docker.io/library/redis").
	ImageName string `json:"image_name,omitempty"`

	RequireBuild bool `json:"require_build,omitempty"`

	// Restart is the required restart policy. NoRestart requires that
	// none (or "no") is set.
	Restart string `json:"restart,omitempty"`

	// Port must be published on the same host port.
	Port uint32 `json:"port,omitempty"`

	// VolumeTarget must be backed by a named volume.
	VolumeTarget string `json:"volume_target,omitempty"`

	DependsOn      []string `json:"depends_on,omitempty"`
	RequireEnvFile bool     `json:"require_env_file,omitempty"`
}

// NoRestart marks a service that must not declare a restart policy.
const NoRestart = "no"

// Contract defaults.
const (
	CacheService  = "redis"
	ServerService = "server"
	CachePort     = 6379
	ServerPort    = 8000
	CacheDataDir  = "/data"
)

// DefaultContract is the two-service topology of compose.yaml.
func DefaultContract() Contract {
	return Contract{
		Cache: ServiceContract{
			Name:           CacheService,
			ImageName:      "redis",
			Restart:        "unless-stopped",
			Port:           CachePort,
			VolumeTarget:   CacheDataDir,
			RequireEnvFile: true,
		},
		Server: ServiceContract{
			Name:           ServerService,
			RequireBuild:   true,
			Restart:        NoRestart,
			Port:           ServerPort,
			DependsOn:      []string{CacheService},
			RequireEnvFile: true,
		},
		Services:      2,
		NamedVolumes:  1,
		NetworkDriver: "bridge",
	}
}
