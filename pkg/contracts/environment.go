package contracts

import (
	"fmt"
	"strings"
)

// Environment is a deployment tier the gateway serves.
type Environment string

// Known environments.
const (
	EnvironmentDev   Environment = "dev"
	EnvironmentStage Environment = "stage"
	EnvironmentProd  Environment = "prod"
)

// Environments lists the allowed environment tags.
func Environments() []Environment {
	return []Environment{EnvironmentDev, EnvironmentStage, EnvironmentProd}
}

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	switch e {
	case EnvironmentDev, EnvironmentStage, EnvironmentProd:
		return true
	default:
		return false
	}
}

// ParseEnvironment normalises s (trimmed, lower-cased) and validates it.
func ParseEnvironment(s string) (Environment, error) {
	env := Environment(strings.ToLower(strings.TrimSpace(s)))
	if !env.Valid() {
		return "", fmt.Errorf("environment must be one of: dev, stage, prod (got %q)", s)
	}
	return env, nil
}
