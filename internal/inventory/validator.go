// Package inventory validates raw device records and materialises them
// as devices of a job. CSV import and manual entry share Validator.Row.
package inventory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/models"
)

const (
	MinVLAN = 1
	MaxVLAN = 4094
)

var hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,63}$`)

// ValidHostname reports whether s is an acceptable device hostname.
func ValidHostname(s string) bool {
	return hostnamePattern.MatchString(s)
}

// Row is one raw device record before validation. Line is the 1-based
// data row number, or zero for manual entry.
type Row struct {
	Line     int    `json:"row,omitempty"`
	Hostname string `json:"hostname"`
	MgmtIP   string `json:"mgmt_ip"`
	Mask     string `json:"mask"`
	Gateway  string `json:"gateway"`
	Vendor   string `json:"vendor"`
	Model    string `json:"model"`
	MgmtVLAN string `json:"mgmt_vlan"`
	Port     string `json:"port"`

	malformed string
}

// Result is the outcome of validating a batch.
type Result struct {
	Accepted models.Devices `json:"accepted"`
	Errors   []faults.Issue `json:"errors"`
}

// Validator checks rows against the devices already in a job and the
// rows it has accepted so far. It is not safe for concurrent use.
type Validator struct {
	jobID     uuid.UUID
	hostnames map[string]struct{}
	ports     map[int]struct{}
}

// NewValidator seeds uniqueness state from the job's existing devices.
func NewValidator(jobID uuid.UUID, existing models.Devices) *Validator {
	v := &Validator{
		jobID:     jobID,
		hostnames: make(map[string]struct{}, len(existing)),
		ports:     make(map[int]struct{}, len(existing)),
	}
	for _, d := range existing {
		v.hostnames[strings.ToLower(d.Hostname)] = struct{}{}
		if d.Port != nil {
			v.ports[*d.Port] = struct{}{}
		}
	}
	return v
}

// Row validates a single record. On success the returned device is
// remembered for subsequent uniqueness checks; on failure nothing is
// recorded and every failing field is reported.
func (v *Validator) Row(r Row) (*models.Device, []faults.Issue) {
	if r.malformed != "" {
		return nil, []faults.Issue{{Row: r.Line, Message: "malformed csv record: " + r.malformed}}
	}

	var issues []faults.Issue
	fail := func(field, msg, suggestion string) {
		issues = append(issues, faults.Issue{
			Row:        r.Line,
			Field:      field,
			Message:    msg,
			Suggestion: suggestion,
		})
	}

	hostname := strings.TrimSpace(r.Hostname)
	switch {
	case hostname == "":
		fail("hostname", "hostname is required", "")
	case !ValidHostname(hostname):
		fail("hostname", fmt.Sprintf("invalid hostname %q: use 1-63 letters, digits or hyphens", hostname), suggestHostname(hostname))
	default:
		if _, dup := v.hostnames[strings.ToLower(hostname)]; dup {
			fail("hostname", fmt.Sprintf("duplicate hostname %q in job", hostname), "")
		}
	}

	mgmtIP := strings.TrimSpace(r.MgmtIP)
	if _, ok := ParseIPv4(mgmtIP); !ok {
		fail("mgmt_ip", "invalid IPv4", SuggestIPv4(r.MgmtIP))
	}

	mask, _, ok := NormalizeMask(r.Mask)
	if !ok {
		fail("mask", fmt.Sprintf("invalid subnet mask %q", strings.TrimSpace(r.Mask)), "")
	}

	gateway := strings.TrimSpace(r.Gateway)
	if _, ok := ParseIPv4(gateway); !ok {
		fail("gateway", "invalid IPv4", SuggestIPv4(r.Gateway))
	}

	vendor, ok := models.ParseVendor(r.Vendor)
	if !ok {
		fail("vendor", fmt.Sprintf("unknown vendor %q (known: %s)", strings.TrimSpace(r.Vendor), knownVendors()), "")
	}

	var vlan *int
	if s := strings.TrimSpace(r.MgmtVLAN); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < MinVLAN || n > MaxVLAN {
			fail("mgmt_vlan", fmt.Sprintf("invalid VLAN %q: must be between %d and %d", s, MinVLAN, MaxVLAN), "")
		} else {
			vlan = &n
		}
	}

	var port *int
	if s := strings.TrimSpace(r.Port); s != "" {
		n, err := strconv.Atoi(s)
		switch {
		case err != nil || n < models.MinPort || n > models.MaxPort:
			fail("port", fmt.Sprintf("invalid port %q: must be between %d and %d", s, models.MinPort, models.MaxPort), "")
		default:
			if _, dup := v.ports[n]; dup {
				fail("port", fmt.Sprintf("port %d is already assigned in this job", n), "")
			} else {
				port = &n
			}
		}
	}

	if len(issues) > 0 {
		return nil, issues
	}

	v.hostnames[strings.ToLower(hostname)] = struct{}{}
	if port != nil {
		v.ports[*port] = struct{}{}
	}

	return &models.Device{
		ID:       uuid.New(),
		JobID:    v.jobID,
		Hostname: hostname,
		MgmtIP:   mgmtIP,
		Mask:     mask,
		Gateway:  gateway,
		Vendor:   vendor,
		Model:    strings.TrimSpace(r.Model),
		MgmtVLAN: vlan,
		Port:     port,
	}, nil
}

// Validate runs every row through the validator. No row blocks another.
func (v *Validator) Validate(rows []Row) *Result {
	res := &Result{Accepted: models.Devices{}, Errors: []faults.Issue{}}
	for _, r := range rows {
		d, issues := v.Row(r)
		if len(issues) > 0 {
			res.Errors = append(res.Errors, issues...)
			continue
		}
		res.Accepted = append(res.Accepted, d)
	}
	return res
}

func knownVendors() string {
	names := make([]string, len(models.Vendors))
	for i, v := range models.Vendors {
		names[i] = string(v)
	}
	return strings.Join(names, ", ")
}

func suggestHostname(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '_' || r == '.':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 63 {
		out = out[:63]
	}
	if out == "" || out == s || !ValidHostname(out) {
		return ""
	}
	return out
}
