// Package policy holds the rule set evaluated during a dry-run.
package policy

import (
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/switchyard-net/switchyard/internal/inventory"
	"github.com/switchyard-net/switchyard/internal/models"
	"gopkg.in/yaml.v3"
)

// DefaultDeny lists command globs that are never pushed.
var DefaultDeny = []string{
	"reload*",
	"write erase*",
	"erase *",
	"format *",
	"delete *",
}

// Range is an inclusive integer interval.
type Range struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

func (r Range) Contains(n int) bool {
	return n >= r.Min && n <= r.Max
}

// Policy is the rule configuration. The zero value is not usable; start
// from Default or Parse.
type Policy struct {
	VLAN       Range                      `yaml:"vlan" json:"vlan"`
	Deny       []string                   `yaml:"deny" json:"deny"`
	VendorDeny map[models.Vendor][]string `yaml:"vendor_deny" json:"vendor_deny,omitempty"`
}

// Default returns the built-in policy.
func Default() *Policy {
	return &Policy{
		VLAN: Range{Min: inventory.MinVLAN, Max: inventory.MaxVLAN},
		Deny: append([]string(nil), DefaultDeny...),
	}
}

// Parse decodes a YAML policy on top of the defaults. An explicit
// deny list replaces the default one.
func Parse(data []byte) (*Policy, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, errors.Wrap(err, "decode policy")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads a policy file. An empty path yields the default policy.
func Load(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read policy file %s", path)
	}
	return Parse(data)
}

// Validate performs semantic validation on the policy.
func (p *Policy) Validate() error {
	if p.VLAN.Min < inventory.MinVLAN || p.VLAN.Max > inventory.MaxVLAN || p.VLAN.Min > p.VLAN.Max {
		return fmt.Errorf("vlan range must lie within %d-%d with min <= max", inventory.MinVLAN, inventory.MaxVLAN)
	}
	for _, pattern := range p.Deny {
		if !doublestar.ValidatePattern(commandKey(pattern)) {
			return fmt.Errorf("invalid deny pattern %q", pattern)
		}
	}
	for vendor, patterns := range p.VendorDeny {
		if _, ok := models.ParseVendor(string(vendor)); !ok {
			return fmt.Errorf("vendor_deny: unknown vendor %q", vendor)
		}
		for _, pattern := range patterns {
			if !doublestar.ValidatePattern(commandKey(pattern)) {
				return fmt.Errorf("vendor_deny.%s: invalid pattern %q", vendor, pattern)
			}
		}
	}
	return nil
}

// Denied returns the first deny pattern matching cmd for the vendor.
// Matching is case-insensitive and '*' spans whole command lines.
func (p *Policy) Denied(vendor models.Vendor, cmd string) (string, bool) {
	key := commandKey(cmd)
	check := func(patterns []string) (string, bool) {
		for _, pattern := range patterns {
			if ok, err := doublestar.Match(commandKey(pattern), key); err == nil && ok {
				return pattern, true
			}
		}
		return "", false
	}

	if pattern, ok := check(p.Deny); ok {
		return pattern, true
	}
	return check(p.VendorDeny[vendor])
}

// commandKey folds a command into a glob subject. Slashes in CLI
// arguments are not path separators, so they are mapped out of the way
// on both sides of the match.
func commandKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "/", "\x1f")
}
