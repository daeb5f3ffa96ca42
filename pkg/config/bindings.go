package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/stackd/internal/bytesize"
)

type valueKind string

const (
	kindString   valueKind = "string"
	kindInt      valueKind = "integer"
	kindFloat    valueKind = "number"
	kindBool     valueKind = "boolean"
	kindDuration valueKind = "duration"
	kindByteSize valueKind = "byte size"
	kindList     valueKind = "list"
)

// Binding ties a configuration key to its environment variable.
type Binding struct {
	// Key is the dotted viper key, e.g. "redis.connect.max_retries".
	Key string

	// Env is the environment variable, e.g. "REDIS_CONNECT_MAX_RETRIES".
	Env string

	// Default is the default rendered as it would appear in an env file.
	Default string

	// Secret marks credentials that must not be echoed.
	Secret bool

	kind valueKind
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	byteSizeType = reflect.TypeOf(bytesize.ByteSize(0))
)

// Bindings lists every configurable variable in declaration order,
// derived from the env tags on Config.
func Bindings() []Binding {
	var out []Binding
	collectBindings(reflect.ValueOf(GetDefaultConfig()).Elem(), "", &out)
	return out
}

// EnvName returns the environment variable bound to a dotted key.
func EnvName(key string) (string, bool) {
	for _, b := range Bindings() {
		if b.Key == key {
			return b.Env, true
		}
	}
	return "", false
}

func collectBindings(v reflect.Value, prefix string, out *[]Binding) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		fv := v.Field(i)
		env := f.Tag.Get("env")
		if env == "" {
			if f.Type.Kind() == reflect.Struct {
				collectBindings(fv, key, out)
			}
			continue
		}

		*out = append(*out, Binding{
			Key:     key,
			Env:     env,
			Default: formatValue(fv),
			Secret:  f.Tag.Get("secret") == "true",
			kind:    kindOf(f.Type),
		})
	}
}

func kindOf(t reflect.Type) valueKind {
	switch {
	case t == durationType:
		return kindDuration
	case t == byteSizeType:
		return kindByteSize
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int64, reflect.Int32:
		return kindInt
	case reflect.Float64, reflect.Float32:
		return kindFloat
	case reflect.Bool:
		return kindBool
	case reflect.Slice:
		return kindList
	default:
		return kindString
	}
}

// formatValue renders a config field the way it would be written in an
// env file, so defaults round-trip through Load.
func formatValue(v reflect.Value) string {
	switch v.Type() {
	case durationType:
		return FormatDuration(time.Duration(v.Int()))
	case byteSizeType:
		text, _ := bytesize.ByteSize(v.Uint()).MarshalText()
		return string(text)
	}

	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int64, reflect.Int32:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Float64, reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Slice:
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = fmt.Sprint(v.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v.Interface())
	}
}

// FormatDuration prints d without trailing zero units: 1h rather than 1h0m0s.
func FormatDuration(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = s[:len(s)-2]
	}
	if strings.HasSuffix(s, "h0m") {
		s = s[:len(s)-2]
	}
	return s
}

// EnvValues renders cfg as env variable assignments keyed by variable name.
func EnvValues(cfg *Config) map[string]string {
	var bindings []Binding
	collectBindings(reflect.ValueOf(cfg).Elem(), "", &bindings)

	out := make(map[string]string, len(bindings))
	for _, b := range bindings {
		out[b.Env] = b.Default
	}
	return out
}
