package main

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidServeMode = errors.New("invalid serve mode")

// ServeMode selects which route groups a server process exposes.
type ServeMode string

const (
	ServeModeAll    ServeMode = "all"
	ServeModeIntake ServeMode = "intake"
	ServeModeAdmin  ServeMode = "admin"
)

func ParseServeMode(rawInput string) (ServeMode, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if normalized == "" {
		return ServeModeAll, nil
	}

	mode := ServeMode(normalized)
	switch mode {
	case ServeModeAll, ServeModeIntake, ServeModeAdmin:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidServeMode, rawInput)
	}
}

func (mode ServeMode) servesIntake() bool {
	return mode == ServeModeAll || mode == ServeModeIntake
}

func (mode ServeMode) servesAdmin() bool {
	return mode == ServeModeAll || mode == ServeModeAdmin
}
