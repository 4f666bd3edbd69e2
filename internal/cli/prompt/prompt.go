// Package prompt wraps promptui for the interactive `init` flow.
package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err comes from an aborted prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err != nil && IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Confirm asks a yes/no question. Empty input selects defaultYes.
func Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}

	result, err := (&promptui.Prompt{Label: fmt.Sprintf("%s [%s]", label, hint)}).Run()
	if err != nil {
		return false, wrapError(err)
	}
	return ParseYesNo(result, defaultYes), nil
}

// ParseYesNo interprets a Confirm answer.
func ParseYesNo(answer string, defaultYes bool) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return defaultYes
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Input prompts for text, validated by validate when non-nil.
func Input(label, defaultValue string, validate func(string) error) (string, error) {
	result, err := (&promptui.Prompt{
		Label:    label,
		Default:  defaultValue,
		Validate: validate,
	}).Run()
	return result, wrapError(err)
}

// InputPort prompts for a TCP port. allowZero accepts 0 for "any port".
func InputPort(label string, defaultValue int, allowZero bool) (int, error) {
	result, err := Input(label, strconv.Itoa(defaultValue), func(s string) error {
		_, err := ParsePort(s, allowZero)
		return err
	})
	if err != nil {
		return 0, err
	}
	return ParsePort(result, allowZero)
}

// ParsePort validates a port typed by the user.
func ParsePort(s string, allowZero bool) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("must be a valid integer")
	}
	lowest := 1
	if allowZero {
		lowest = 0
	}
	if port < lowest || port > 65535 {
		return 0, fmt.Errorf("must be a valid port (%d-65535)", lowest)
	}
	return port, nil
}

// Select asks the user to pick one of items and returns it.
func Select(label string, items []string) (string, error) {
	_, result, err := (&promptui.Select{
		Label: label,
		Items: items,
		Size:  10,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "> {{ . | cyan }}",
			Inactive: "  {{ . }}",
			Selected: "* {{ . | green }}",
		},
	}).Run()
	return result, wrapError(err)
}
