package render

import (
	"fmt"
	"strings"

	"github.com/switchyard-net/switchyard/internal/models"
)

// Block is a named group of commands applied in order. A failure in a
// critical block fails the device; a non-critical failure is recorded
// and the push continues.
type Block struct {
	Name     string   `json:"name"`
	Commands []string `json:"commands"`
	Critical bool     `json:"critical"`
}

// Profile is one closed vendor variant. Bumping Version changes every
// hash produced by the profile.
type Profile struct {
	ID      models.Vendor
	Version string
	// Save runs after the blocks. Profiles whose blocks already persist
	// the configuration leave it empty.
	Save   []string
	Verify []string

	blocks   func(d *models.Device) []Block
	verified func(output string) bool
}

// Verified reports whether the verify command output indicates a
// healthy device.
func (p Profile) Verified(output string) bool {
	if p.verified == nil {
		return true
	}
	return p.verified(output)
}

var profiles = map[models.Vendor]Profile{
	models.VendorGeneric: {
		ID:      models.VendorGeneric,
		Version: "1",
		Save:    []string{"write", "copy run start"},
		Verify:  []string{"show ip interface brief"},
		blocks:  genericBlocks,
	},
	models.VendorCisco: {
		ID:       models.VendorCisco,
		Version:  "1",
		Verify:   []string{"show ip interface brief", "show version"},
		blocks:   ciscoBlocks,
		verified: func(output string) bool { return strings.Contains(strings.ToLower(output), "up") },
	},
}

// Lookup returns the profile for the vendor.
func Lookup(v models.Vendor) (Profile, bool) {
	p, ok := profiles[v]
	return p, ok
}

func genericBlocks(d *models.Device) []Block {
	cmds := []string{fmt.Sprintf("hostname %s", d.Hostname)}
	if d.MgmtVLAN != nil {
		cmds = append(cmds, fmt.Sprintf("interface vlan %d", *d.MgmtVLAN))
	} else {
		cmds = append(cmds, "interface mgmt0")
	}
	cmds = append(cmds,
		fmt.Sprintf("ip address %s %s", d.MgmtIP, d.Mask),
		"exit",
		fmt.Sprintf("ip default-gateway %s", d.Gateway),
	)

	return []Block{{Name: "Bootstrap", Commands: cmds, Critical: true}}
}

func ciscoBlocks(d *models.Device) []Block {
	vlan := 1
	baseline := []string{fmt.Sprintf("hostname %s", d.Hostname)}
	if d.MgmtVLAN != nil {
		vlan = *d.MgmtVLAN
		baseline = append(baseline,
			fmt.Sprintf("vlan %d", vlan),
			"name MGMT",
			"exit",
		)
	}
	baseline = append(baseline,
		fmt.Sprintf("interface Vlan%d", vlan),
		fmt.Sprintf("ip address %s %s", d.MgmtIP, d.Mask),
		"no shutdown",
		"exit",
		fmt.Sprintf("ip default-gateway %s", d.Gateway),
		"ip ssh version 2",
		"line vty 0 4",
		"transport input ssh",
		"login local",
		"exit",
	)

	return []Block{
		{Name: "Enter Configuration", Commands: []string{"conf t"}, Critical: true},
		{Name: "Apply Baseline", Commands: baseline, Critical: true},
		{Name: "Save Configuration", Commands: []string{"end", "write memory"}, Critical: false},
	}
}
