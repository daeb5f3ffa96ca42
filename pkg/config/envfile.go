package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReadEnvFile parses a dotenv file into a map keyed by variable name.
// A missing file yields an error wrapping ErrEnvFileNotFound that tells
// the operator how to create one.
func ReadEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s\n\n"+
				"Create one from the defaults:\n"+
				"  stackd env init --path %s\n\n"+
				"Or, when the orchestrator already injects the variables:\n"+
				"  stackd start --allow-missing-env-file",
				ErrEnvFileNotFound, path, path)
		}
		return nil, fmt.Errorf("failed to stat env file %s: %w", path, err)
	}

	fv := viper.New()
	fv.SetConfigFile(path)
	fv.SetConfigType("env")
	if err := fv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to parse env file %s: %w", path, err)
	}

	values := make(map[string]string, len(fv.AllKeys()))
	for _, k := range fv.AllKeys() {
		values[strings.ToUpper(k)] = fv.GetString(k)
	}
	return values, nil
}

// RenderEnvFile formats values as a dotenv document. Known variables come
// first in binding order, unknown ones follow sorted by name.
func RenderEnvFile(values map[string]string) []byte {
	var buf bytes.Buffer
	buf.WriteString("# stackd environment, shared by the redis and server services\n")

	seen := make(map[string]bool, len(values))
	section := ""
	for _, b := range Bindings() {
		val, ok := values[b.Env]
		if !ok {
			continue
		}
		seen[b.Env] = true

		if s := strings.SplitN(b.Key, ".", 2)[0]; s != section {
			section = s
			fmt.Fprintf(&buf, "\n# %s\n", section)
		}
		fmt.Fprintf(&buf, "%s=%s\n", b.Env, quoteEnvValue(val))
	}

	var extra []string
	for k := range values {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		buf.WriteString("\n# other\n")
		for _, k := range extra {
			fmt.Fprintf(&buf, "%s=%s\n", k, quoteEnvValue(values[k]))
		}
	}
	return buf.Bytes()
}

func quoteEnvValue(v string) string {
	if v == "" || strings.ContainsAny(v, " \t#\"'$\\") {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`).Replace(v) + `"`
	}
	return v
}

// WriteEnvFile writes values to path with owner-only permissions, since
// env files carry REDIS_PASSWORD and JWT_SECRET_KEY.
func WriteEnvFile(path string, values map[string]string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, RenderEnvFile(values), 0600); err != nil {
		return fmt.Errorf("failed to write env file: %w", err)
	}
	return nil
}

// WatchEnvFile calls onChange with a freshly loaded configuration each time
// the env file is written. Load errors are passed through so the caller can
// keep its current configuration.
func WatchEnvFile(opts LoadOptions, onChange func(*Config, error)) error {
	path := opts.envFile()
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot watch env file %s: %w", path, err)
	}

	fv := viper.New()
	fv.SetConfigFile(path)
	fv.SetConfigType("env")
	if err := fv.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to parse env file %s: %w", path, err)
	}

	fv.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(Load(opts))
	})
	fv.WatchConfig()
	return nil
}
