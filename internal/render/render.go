// Package render turns a device into the ordered command sequence pushed
// to its console, along with a content hash of those exact bytes. The
// same function backs preview, dry-run and real runs.
package render

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/models"
)

// ShortHashLen is the length of the abbreviated hash shown to operators.
const ShortHashLen = 12

// Preview is the rendered artifact for one device.
type Preview struct {
	DeviceID       uuid.UUID     `json:"device_id"`
	Hostname       string        `json:"hostname"`
	Vendor         models.Vendor `json:"vendor"`
	ProfileVersion string        `json:"profile_version"`
	Commands       []string      `json:"commands"`
	Blocks         []Block       `json:"blocks"`
	Save           []string      `json:"save,omitempty"`
	Verify         []string      `json:"verify,omitempty"`
	Hash           string        `json:"hash"`
	ShortHash      string        `json:"short_hash"`
}

type Previews []*Preview

// Sent lists every command a push writes to the console: the blocks,
// then the save and verify sequences.
func (p *Preview) Sent() []string {
	out := make([]string, 0, len(p.Commands)+len(p.Save)+len(p.Verify))
	out = append(out, p.Commands...)
	out = append(out, p.Save...)
	return append(out, p.Verify...)
}

// Render produces the commands and hash for d. It has no side effects
// and depends only on the device fields and the profile version.
func Render(d *models.Device) (*Preview, error) {
	if d == nil {
		return nil, faults.Fatal(faults.CodeTemplateError, "no device to render", nil)
	}

	vendor := d.Vendor
	if vendor == "" {
		vendor = models.VendorGeneric
	}

	profile, ok := Lookup(vendor)
	if !ok {
		return nil, faults.Fatal(faults.CodeTemplateError, "unknown vendor profile "+string(d.Vendor), nil)
	}

	required := [][2]string{
		{"hostname", d.Hostname},
		{"mgmt_ip", d.MgmtIP},
		{"mask", d.Mask},
		{"gateway", d.Gateway},
	}
	for _, f := range required {
		if strings.TrimSpace(f[1]) == "" {
			return nil, faults.Fatal(faults.CodeTemplateError, f[0]+" is required to render", nil)
		}
	}

	blocks := profile.blocks(d)

	var commands []string
	for _, b := range blocks {
		commands = append(commands, b.Commands...)
	}

	hash := Hash(profile, blocks)

	return &Preview{
		DeviceID:       d.ID,
		Hostname:       d.Hostname,
		Vendor:         profile.ID,
		ProfileVersion: profile.Version,
		Commands:       commands,
		Blocks:         blocks,
		Save:           profile.Save,
		Verify:         profile.Verify,
		Hash:           hash,
		ShortHash:      hash[:ShortHashLen],
	}, nil
}

// Hash digests the canonical serialisation of the blocks together with
// the profile identity, version and its save and verify sequences.
func Hash(p Profile, blocks []Block) string {
	sum := sha256.Sum256(Canonical(p, blocks))
	return hex.EncodeToString(sum[:])
}

// Canonical returns the exact byte string that is hashed.
func Canonical(p Profile, blocks []Block) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(p.ID))
	buf.WriteByte('\n')
	buf.WriteString(p.Version)
	buf.WriteByte('\n')
	for _, b := range blocks {
		buf.WriteString("! Block: ")
		buf.WriteString(b.Name)
		buf.WriteByte('\n')
		for _, c := range b.Commands {
			buf.WriteString(c)
			buf.WriteByte('\n')
		}
	}
	section := func(name string, cmds []string) {
		if len(cmds) == 0 {
			return
		}
		buf.WriteString("! ")
		buf.WriteString(name)
		buf.WriteByte('\n')
		for _, c := range cmds {
			buf.WriteString(c)
			buf.WriteByte('\n')
		}
	}
	section("Save", p.Save)
	section("Verify", p.Verify)
	return buf.Bytes()
}
