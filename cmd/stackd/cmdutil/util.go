// Package cmdutil provides shared utilities for stackd commands.
package cmdutil

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/stackd/internal/cli/output"
	"github.com/marmos91/stackd/internal/cli/prompt"
	"github.com/marmos91/stackd/pkg/config"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	EnvFile             string
	AllowMissingEnvFile bool
	Output              string
	NoColor             bool
	Verbose             bool
}

// ErrFindings is returned by commands whose report contains errors, so the
// process exits non-zero after the report has been printed.
var ErrFindings = errors.New("check reported errors")

// LoadOptions returns the config.LoadOptions selected by the global flags.
func LoadOptions() config.LoadOptions {
	return config.LoadOptions{
		EnvFile:             Flags.EnvFile,
		AllowMissingEnvFile: Flags.AllowMissingEnvFile,
	}
}

// LoadConfig loads the configuration selected by the global flags.
func LoadConfig() (*config.Config, error) {
	return config.Load(LoadOptions())
}

// EnvFilePath returns the env file the global flags point at.
func EnvFilePath() string {
	if Flags.EnvFile == "" {
		return config.DefaultEnvFile
	}
	return Flags.EnvFile
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// NewPrinter returns a printer for w in the selected output format.
func NewPrinter(w io.Writer) (*output.Printer, error) {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return nil, err
	}
	p := output.NewPrinter(w, format)
	if Flags.NoColor {
		p.WithColor(false)
	}
	return p, nil
}

// PrintOutput prints data in the specified format (JSON, YAML, or table).
// For table format, it displays emptyMsg if data is empty, otherwise uses the tableRenderer.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, tableRenderer)
	}
}

// PrintSuccess prints a success message if the output format is table.
func PrintSuccess(w io.Writer, msg string) {
	p, err := NewPrinter(w)
	if err != nil || p.Format() != output.FormatTable {
		return
	}
	p.Success(msg)
}

// ParseCommaSeparatedList parses a comma-separated string into a slice of trimmed strings.
func ParseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

// EmptyOr returns the value if not empty, otherwise returns the fallback.
// Useful for table display where empty fields should show "-".
func EmptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// HandleAbort checks if error is an abort (Ctrl+C) and prints a message.
// Returns nil for abort (user cancelled), otherwise returns the original error.
func HandleAbort(w io.Writer, err error) error {
	if prompt.IsAborted(err) {
		_, _ = fmt.Fprintln(w, "\nAborted.")
		return nil
	}
	return err
}
