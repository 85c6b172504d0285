package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/inventory"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/render"
)

// Checked is the per-device outcome of a dry-run.
type Checked struct {
	DeviceID  uuid.UUID     `json:"device_id"`
	Hostname  string        `json:"hostname"`
	Port      int           `json:"port"`
	Vendor    models.Vendor `json:"vendor"`
	Hash      string        `json:"template_hash,omitempty"`
	ShortHash string        `json:"short_hash,omitempty"`
	Valid     bool          `json:"valid"`
}

// Result is the dry-run report. Success is set explicitly and is true
// only when no device raised an issue.
type Result struct {
	Success bool           `json:"success"`
	Errors  []faults.Issue `json:"errors"`
	Devices []Checked      `json:"devices"`
}

// CheckPorts enforces the run precondition: at least one device, every
// device has a console port, and no port is shared. Duplicates are
// reported as a conflict naming the lowest shared port.
func CheckPorts(devices models.Devices) error {
	if len(devices) == 0 {
		return &faults.PreconditionError{Operation: "rollout", Precondition: "job has no devices"}
	}

	owners := make(map[int][]string)
	var missing []faults.Issue
	for _, d := range devices {
		if d.Port == nil {
			missing = append(missing, faults.Issue{
				DeviceID: d.ID.String(),
				Field:    "port",
				Message:  fmt.Sprintf("device %s has no console port assigned", d.Hostname),
			})
			continue
		}
		owners[*d.Port] = append(owners[*d.Port], d.Hostname)
	}

	var dups []int
	for port, hosts := range owners {
		if len(hosts) > 1 {
			dups = append(dups, port)
		}
	}
	if len(dups) > 0 {
		sort.Ints(dups)
		port := dups[0]
		return &faults.ConflictError{
			Resource: "port",
			Reason:   fmt.Sprintf("port %d assigned to multiple devices: %s", port, strings.Join(owners[port], ", ")),
			Port:     port,
		}
	}

	if len(missing) > 0 {
		return &faults.PreconditionError{
			Operation:    "rollout",
			Precondition: "every device needs a unique console port",
			Issues:       missing,
		}
	}

	return nil
}

// DryRun evaluates every device against the policy without touching
// hardware. The port precondition is checked before anything is
// rendered. Violations are collected across all devices.
func (p *Policy) DryRun(devices models.Devices) (*Result, error) {
	if err := CheckPorts(devices); err != nil {
		return nil, err
	}

	res := &Result{Errors: []faults.Issue{}, Devices: make([]Checked, 0, len(devices))}

	ips := make(map[string][]string)
	for _, d := range devices {
		ips[strings.TrimSpace(d.MgmtIP)] = append(ips[strings.TrimSpace(d.MgmtIP)], d.Hostname)
	}

	for _, d := range devices {
		issues := p.Check(d)

		if others := ips[strings.TrimSpace(d.MgmtIP)]; len(others) > 1 {
			issues = append(issues, issue(d, "mgmt_ip", fmt.Sprintf("duplicate management IP %s shared by %s", d.MgmtIP, strings.Join(others, ", "))))
		}

		c := Checked{DeviceID: d.ID, Hostname: d.Hostname, Port: *d.Port, Vendor: d.Vendor}

		preview, err := render.Render(d)
		if err != nil {
			issues = append(issues, issue(d, "template", err.Error()))
		} else {
			c.Hash = preview.Hash
			c.ShortHash = preview.ShortHash
			c.Vendor = preview.Vendor
			for _, cmd := range preview.Sent() {
				if pattern, denied := p.Denied(preview.Vendor, cmd); denied {
					issues = append(issues, issue(d, "commands", fmt.Sprintf("command %q matches deny rule %q", cmd, pattern)))
				}
			}
		}

		c.Valid = len(issues) == 0
		res.Devices = append(res.Devices, c)
		res.Errors = append(res.Errors, issues...)
	}

	res.Success = len(res.Errors) == 0

	return res, nil
}

// Check applies the field rules to a single device.
func (p *Policy) Check(d *models.Device) []faults.Issue {
	var issues []faults.Issue
	add := func(field, msg string) { issues = append(issues, issue(d, field, msg)) }

	if !inventory.ValidHostname(d.Hostname) {
		add("hostname", fmt.Sprintf("invalid hostname %q", d.Hostname))
	}

	ip, ipOK := inventory.ParseIPv4(d.MgmtIP)
	if !ipOK {
		add("mgmt_ip", fmt.Sprintf("invalid IPv4 %q", d.MgmtIP))
	}

	_, _, maskOK := inventory.NormalizeMask(d.Mask)
	if !maskOK {
		add("mask", fmt.Sprintf("invalid subnet mask %q", d.Mask))
	}

	gw, gwOK := inventory.ParseIPv4(d.Gateway)
	switch {
	case !gwOK:
		add("gateway", fmt.Sprintf("invalid gateway IPv4 %q", d.Gateway))
	case ipOK && maskOK:
		subnet, _ := inventory.Subnet(d.MgmtIP, d.Mask)
		switch {
		case !subnet.Contains(gw):
			add("gateway", fmt.Sprintf("gateway %s is not in subnet %s of %s", d.Gateway, subnet, d.MgmtIP))
		case gw == ip:
			add("gateway", fmt.Sprintf("gateway %s equals the management address", d.Gateway))
		case subnet.Bits() < 31 && (gw == subnet.Addr() || gw == inventory.Broadcast(subnet)):
			add("gateway", fmt.Sprintf("gateway %s is the network or broadcast address of %s", d.Gateway, subnet))
		}
	}

	if d.MgmtVLAN != nil && !p.VLAN.Contains(*d.MgmtVLAN) {
		add("mgmt_vlan", fmt.Sprintf("VLAN %d outside allowed range %d-%d", *d.MgmtVLAN, p.VLAN.Min, p.VLAN.Max))
	}

	if d.Port != nil && (*d.Port < models.MinPort || *d.Port > models.MaxPort) {
		add("port", fmt.Sprintf("port %d outside %d-%d", *d.Port, models.MinPort, models.MaxPort))
	}

	if _, ok := models.ParseVendor(string(d.Vendor)); !ok {
		add("vendor", fmt.Sprintf("unknown vendor %q", d.Vendor))
	}

	return issues
}

func issue(d *models.Device, field, msg string) faults.Issue {
	return faults.Issue{DeviceID: d.ID.String(), Field: field, Message: msg}
}
