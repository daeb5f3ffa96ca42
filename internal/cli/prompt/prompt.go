// Package prompt wraps promptui for the interactive commands.
package prompt

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted returns true if the error indicates the user aborted (Ctrl+C).
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, ErrAborted)
}

// wrapError converts promptui interrupt errors to ErrAborted.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Prompter asks the questions of "stackd env init". Terminal is the
// promptui implementation; tests script their own.
type Prompter interface {
	Input(label, defaultValue string) (string, error)
	Port(label string, defaultValue int) (int, error)
	Secret(label string) (string, error)
	Select(label string, items []string, defaultItem string) (string, error)
	Confirm(label string, defaultYes bool) (bool, error)
}

// Terminal prompts on the controlling terminal.
type Terminal struct{}

var _ Prompter = Terminal{}

// Input prompts for text input.
func (Terminal) Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{Label: label, Default: defaultValue}
	result, err := p.Run()
	return result, wrapError(err)
}

// Port prompts for a network port (1-65535).
func (Terminal) Port(label string, defaultValue int) (int, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  strconv.Itoa(defaultValue),
		Validate: ValidatePort,
	}

	result, err := p.Run()
	if err != nil {
		return 0, wrapError(err)
	}
	port, _ := strconv.Atoi(result) // Already validated
	return port, nil
}

// Secret prompts for masked input. An empty answer is allowed.
func (Terminal) Secret(label string) (string, error) {
	p := promptui.Prompt{Label: label, Mask: '*'}
	result, err := p.Run()
	return result, wrapError(err)
}

// Select lets the user pick one of items, starting on defaultItem.
func (Terminal) Select(label string, items []string, defaultItem string) (string, error) {
	cursor := 0
	for i, item := range items {
		if item == defaultItem {
			cursor = i
		}
	}

	s := promptui.Select{Label: label, Items: items, CursorPos: cursor}
	_, result, err := s.Run()
	return result, wrapError(err)
}

// Confirm prompts for yes/no. promptui reports "no" as ErrAbort.
func (Terminal) Confirm(label string, defaultYes bool) (bool, error) {
	defaultStr := "y/N"
	if defaultYes {
		defaultStr = "Y/n"
	}

	p := promptui.Prompt{
		Label:     fmt.Sprintf("%s [%s]", label, defaultStr),
		IsConfirm: true,
	}

	result, err := p.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort):
		if result == "" {
			return defaultYes, nil
		}
		return false, nil
	default:
		return false, wrapError(err)
	}
}

// ValidatePort accepts decimal ports in 1-65535.
func ValidatePort(input string) error {
	port, err := strconv.Atoi(input)
	if err != nil {
		return fmt.Errorf("must be a valid integer")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be a valid port (1-65535)")
	}
	return nil
}
