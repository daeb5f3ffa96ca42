package topology

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sort"
	"strconv"
)

// Severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Rule identifiers. They are stable so CI can filter on them.
const (
	RuleLoader          = "descriptor.loader"
	RuleServicesCount   = "services.count"
	RuleServiceMissing  = "service.missing"
	RuleImage           = "service.image"
	RuleBuild           = "service.build"
	RuleRestart         = "service.restart"
	RulePort            = "service.port"
	RuleDependsOn       = "service.depends_on"
	RuleDependsOnTarget = "depends_on.unknown"
	RuleEnvFile         = "service.env_file"
	RuleEnvFileMissing  = "env_file.missing"
	RuleVolumeMount     = "volume.mount"
	RuleVolumeDeclared  = "volume.declared"
	RuleVolumeCount     = "volume.count"
	RuleNetworkDeclared = "network.declared"
	RuleNetworkDriver   = "network.driver"
	RuleNetworkShared   = "network.shared"
	RuleContainerCount  = "containers.count"
	RuleContainerState  = "container.running"
	RuleContainerPort   = "container.port"
	RuleContainerHealth = "container.health"
	RuleVolumeMissing   = "volume.missing"
	RuleReachability    = "probe.reachable"
)

// Finding is one contract violation.
type Finding struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Service  string   `json:"service,omitempty"`
	Message  string   `json:"message"`
}

// Report is the result of a contract check.
type Report struct {
	Source   string    `json:"source"`
	Findings []Finding `json:"findings"`
}

// Add records a finding.
func (r *Report) Add(sev Severity, rule, service, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{
		Rule:     rule,
		Severity: sev,
		Service:  service,
		Message:  fmt.Sprintf(format, args...),
	})
}

// OK reports whether the report holds no errors. Warnings do not fail it.
func (r *Report) OK() bool {
	return len(r.Errors()) == 0
}

// Errors returns the error findings.
func (r *Report) Errors() []Finding {
	return r.filter(SeverityError)
}

// Warnings returns the warning findings.
func (r *Report) Warnings() []Finding {
	return r.filter(SeverityWarning)
}

func (r *Report) filter(sev Severity) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// Sort orders findings errors first, then by rule and service.
func (r *Report) Sort() {
	sort.SliceStable(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.Severity != b.Severity {
			return a.Severity == SeverityError
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Service < b.Service
	})
}

// Headers and Rows render the report as a table.
func (r *Report) Headers() []string {
	return []string{"Severity", "Rule", "Service", "Message"}
}

func (r *Report) Rows() [][]string {
	rows := make([][]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		rows = append(rows, []string{string(f.Severity), f.Rule, f.Service, f.Message})
	}
	return rows
}

// Check validates desc against c. Env files are looked up on disk relative
// to the descriptor.
func Check(desc *Descriptor, c Contract) *Report {
	r := &Report{Source: desc.Path}

	if desc.LoaderError != "" {
		r.Add(SeverityWarning, RuleLoader, "", "compose loader rejected the file, checked raw YAML instead: %s", desc.LoaderError)
	}
	if c.Services > 0 && len(desc.Services) != c.Services {
		r.Add(SeverityError, RuleServicesCount, "", "expected %d services, found %d (%v)", c.Services, len(desc.Services), desc.ServiceNames())
	}

	checkReferences(desc, r)

	cache := checkService(desc, c.Cache, r)
	server := checkService(desc, c.Server, r)

	if cache != nil && server != nil && c.NetworkDriver != "" {
		checkSharedNetwork(desc, c, cache, server, r)
	}

	if c.NamedVolumes > 0 {
		var local int
		for _, v := range desc.Volumes {
			if !v.External {
				local++
			}
		}
		if local != c.NamedVolumes {
			r.Add(SeverityError, RuleVolumeCount, "", "expected %d named volume(s), found %d", c.NamedVolumes, local)
		}
	}

	r.Sort()
	return r
}

// checkReferences enforces that every referenced volume, network and
// dependency is declared.
func checkReferences(desc *Descriptor, r *Report) {
	for _, name := range desc.ServiceNames() {
		svc := desc.Services[name]
		for _, m := range svc.Volumes {
			if m.Named() {
				if _, ok := desc.Volumes[m.Source]; !ok {
					r.Add(SeverityError, RuleVolumeDeclared, name, "volume %q is mounted but not declared under top-level volumes", m.Source)
				}
			}
		}
		for _, net := range svc.Networks {
			if _, ok := desc.Networks[net]; !ok {
				r.Add(SeverityError, RuleNetworkDeclared, name, "network %q is joined but not declared under top-level networks", net)
			}
		}
		for _, dep := range svc.DependsOn {
			if _, ok := desc.Services[dep]; !ok {
				r.Add(SeverityError, RuleDependsOnTarget, name, "depends on unknown service %q", dep)
			}
		}
		for _, ef := range svc.EnvFiles {
			path := desc.ResolvePath(ef)
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				r.Add(SeverityError, RuleEnvFileMissing, name, "env file %s does not exist; run \"stackd env init --path %s\"", path, path)
			}
		}
	}
}

func checkService(desc *Descriptor, sc ServiceContract, r *Report) *Service {
	if sc.Name == "" {
		return nil
	}
	svc, ok := desc.Services[sc.Name]
	if !ok {
		r.Add(SeverityError, RuleServiceMissing, sc.Name, "service %q is not declared", sc.Name)
		return nil
	}

	if sc.ImageName != "" && imageName(svc.Image) != sc.ImageName {
		r.Add(SeverityError, RuleImage, svc.Name, "image %q is not a %s image", svc.Image, sc.ImageName)
	}
	if sc.RequireBuild && svc.BuildContext == "" {
		r.Add(SeverityError, RuleBuild, svc.Name, "service must be built from a local build context")
	}

	switch sc.Restart {
	case "":
	case NoRestart:
		if svc.Restart != "" && svc.Restart != NoRestart {
			r.Add(SeverityWarning, RuleRestart, svc.Name, "restart policy %q is set; the server is expected to have none", svc.Restart)
		}
	default:
		if svc.Restart != sc.Restart {
			r.Add(SeverityError, RuleRestart, svc.Name, "restart policy is %q, expected %q", svc.Restart, sc.Restart)
		}
	}

	if sc.Port != 0 && !publishes(svc, sc.Port) {
		r.Add(SeverityError, RulePort, svc.Name, "port %d must be published as %d:%d", sc.Port, sc.Port, sc.Port)
	}

	if sc.VolumeTarget != "" && !namedVolumeAt(svc, sc.VolumeTarget) {
		r.Add(SeverityError, RuleVolumeMount, svc.Name, "%s must be backed by a named volume", sc.VolumeTarget)
	}

	for _, dep := range sc.DependsOn {
		if !slices.Contains(svc.DependsOn, dep) {
			r.Add(SeverityError, RuleDependsOn, svc.Name, "must depend on %q", dep)
		}
	}

	if sc.RequireEnvFile && len(svc.EnvFiles) == 0 {
		r.Add(SeverityError, RuleEnvFile, svc.Name, "service must read its configuration from an env file")
	}
	return svc
}

func checkSharedNetwork(desc *Descriptor, c Contract, cache, server *Service, r *Report) {
	var shared []string
	for _, net := range cache.Networks {
		if slices.Contains(server.Networks, net) {
			shared = append(shared, net)
		}
	}
	if len(shared) == 0 {
		r.Add(SeverityError, RuleNetworkShared, "", "%s and %s share no network; the server cannot reach %s:%d",
			server.Name, cache.Name, cache.Name, c.Cache.Port)
		return
	}

	for _, name := range shared {
		if n, ok := desc.Networks[name]; ok && n.EffectiveDriver() == c.NetworkDriver {
			return
		}
	}
	r.Add(SeverityError, RuleNetworkDriver, "", "no shared network uses the %s driver (shared: %v)", c.NetworkDriver, shared)
}

func publishes(svc *Service, port uint32) bool {
	want := strconv.FormatUint(uint64(port), 10)
	for _, p := range svc.Ports {
		if p.Target == port && p.Published == want {
			return true
		}
	}
	return false
}

func namedVolumeAt(svc *Service, target string) bool {
	for _, m := range svc.Volumes {
		if m.Target == target && m.Named() {
			return true
		}
	}
	return false
}
