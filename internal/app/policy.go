package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy tunes the savings core. It is loaded from YAML so operators can change
// cycle defaults without redeploying.
type Policy struct {
	Cycle struct {
		DefaultLength int `yaml:"default_length"`
		MaxAttempts   int `yaml:"max_attempts"`
	} `yaml:"cycle"`
	Sweep struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"sweep"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	var p Policy
	p.Cycle.DefaultLength = 31
	p.Cycle.MaxAttempts = 5
	p.Sweep.Concurrency = 4
	return p
}

// LoadPolicy reads the policy file at path, filling unset fields with defaults.
// An empty path or a missing file yields DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return policy, nil
		}
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy decodes YAML policy data over the defaults.
func ParsePolicy(raw []byte) (Policy, error) {
	policy := DefaultPolicy()
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if policy.Cycle.DefaultLength <= 0 {
		return Policy{}, fmt.Errorf("policy: cycle.default_length must be positive")
	}
	if policy.Cycle.MaxAttempts <= 0 {
		return Policy{}, fmt.Errorf("policy: cycle.max_attempts must be positive")
	}
	if policy.Sweep.Concurrency <= 0 {
		return Policy{}, fmt.Errorf("policy: sweep.concurrency must be positive")
	}
	return policy, nil
}
