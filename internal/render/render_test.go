package render

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/models"
)

func device(vendor models.Vendor) *models.Device {
	port := 1
	return &models.Device{
		ID:       uuid.MustParse("8d9e4a1c-0000-4000-8000-000000000001"),
		Hostname: "core-sw-01",
		MgmtIP:   "10.0.0.11",
		Mask:     "255.255.255.0",
		Gateway:  "10.0.0.1",
		Vendor:   vendor,
		Port:     &port,
	}
}

func TestRenderIsPure(t *testing.T) {
	for _, v := range models.Vendors {
		first, err := Render(device(v))
		require.NoError(t, err)
		second, err := Render(device(v))
		require.NoError(t, err)

		assert.Equal(t, first, second, string(v))
		assert.Len(t, first.Hash, 64)
		assert.Equal(t, first.Hash[:ShortHashLen], first.ShortHash)
	}
}

func TestRenderIgnoresPort(t *testing.T) {
	a := device(models.VendorCisco)
	b := device(models.VendorCisco)
	other := 9
	b.Port = &other

	pa, err := Render(a)
	require.NoError(t, err)
	pb, err := Render(b)
	require.NoError(t, err)

	assert.Equal(t, pa.Hash, pb.Hash)
}

func TestRenderHashTracksFields(t *testing.T) {
	base, err := Render(device(models.VendorGeneric))
	require.NoError(t, err)

	changed := device(models.VendorGeneric)
	changed.Gateway = "10.0.0.254"
	other, err := Render(changed)
	require.NoError(t, err)
	assert.NotEqual(t, base.Hash, other.Hash)

	vlan := 20
	tagged := device(models.VendorGeneric)
	tagged.MgmtVLAN = &vlan
	withVLAN, err := Render(tagged)
	require.NoError(t, err)
	assert.NotEqual(t, base.Hash, withVLAN.Hash)
	assert.Contains(t, withVLAN.Commands, "interface vlan 20")
}

func TestRenderHashTracksProfileVersion(t *testing.T) {
	p, ok := Lookup(models.VendorGeneric)
	require.True(t, ok)

	d := device(models.VendorGeneric)
	blocks := p.blocks(d)
	bumped := p
	bumped.Version = "2"

	assert.NotEqual(t, Hash(p, blocks), Hash(bumped, blocks))
}

func TestRenderCiscoBlocks(t *testing.T) {
	vlan := 100
	d := device(models.VendorCisco)
	d.MgmtVLAN = &vlan

	p, err := Render(d)
	require.NoError(t, err)

	require.Len(t, p.Blocks, 3)
	assert.Equal(t, "Enter Configuration", p.Blocks[0].Name)
	assert.True(t, p.Blocks[0].Critical)
	assert.Equal(t, "Apply Baseline", p.Blocks[1].Name)
	assert.Equal(t, "Save Configuration", p.Blocks[2].Name)
	assert.False(t, p.Blocks[2].Critical)

	assert.Equal(t, "conf t", p.Commands[0])
	assert.Contains(t, p.Commands, "vlan 100")
	assert.Contains(t, p.Commands, "interface Vlan100")
	assert.Contains(t, p.Commands, "ip address 10.0.0.11 255.255.255.0")
	assert.Equal(t, "write memory", p.Commands[len(p.Commands)-1])
}

func TestCanonicalFormat(t *testing.T) {
	p := Profile{ID: "generic", Version: "7"}
	blocks := []Block{{Name: "One", Commands: []string{"a", "b"}}, {Name: "Two", Commands: []string{"c"}}}

	assert.Equal(t, "generic\n7\n! Block: One\na\nb\n! Block: Two\nc\n", string(Canonical(p, blocks)))

	swapped := []Block{{Name: "One", Commands: []string{"b", "a"}}, {Name: "Two", Commands: []string{"c"}}}
	assert.NotEqual(t, Hash(p, blocks), Hash(p, swapped))

	p.Save = []string{"write"}
	p.Verify = []string{"show version"}
	assert.Equal(t, "generic\n7\n! Block: One\na\nb\n! Block: Two\nc\n! Save\nwrite\n! Verify\nshow version\n", string(Canonical(p, blocks)))
}

func TestRenderHashTracksSaveAndVerify(t *testing.T) {
	p, ok := Lookup(models.VendorGeneric)
	require.True(t, ok)

	blocks := p.blocks(device(models.VendorGeneric))

	saved := p
	saved.Save = []string{"write memory"}
	assert.NotEqual(t, Hash(p, blocks), Hash(saved, blocks))

	verified := p
	verified.Verify = []string{"show running-config"}
	assert.NotEqual(t, Hash(p, blocks), Hash(verified, blocks))

	preview, err := Render(device(models.VendorGeneric))
	require.NoError(t, err)
	sent := preview.Sent()
	assert.Equal(t, p.Verify[len(p.Verify)-1], sent[len(sent)-1])
	assert.Len(t, sent, len(preview.Commands)+len(p.Save)+len(p.Verify))
}

func TestRenderErrors(t *testing.T) {
	_, err := Render(device("juniper"))
	require.Error(t, err)
	assert.Equal(t, faults.CodeTemplateError, faults.CodeOf(err))
	assert.ErrorIs(t, err, faults.ErrFatalConfig)

	d := device(models.VendorGeneric)
	d.Gateway = " "
	_, err = Render(d)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "gateway"))
}

func TestRenderDefaultsToGeneric(t *testing.T) {
	p, err := Render(device(""))
	require.NoError(t, err)
	assert.Equal(t, models.VendorGeneric, p.Vendor)
}

func TestProfileVerified(t *testing.T) {
	cisco, _ := Lookup(models.VendorCisco)
	assert.True(t, cisco.Verified("Vlan1 10.0.0.11 YES manual up up"))
	assert.False(t, cisco.Verified("Vlan1 unassigned"))

	generic, _ := Lookup(models.VendorGeneric)
	assert.True(t, generic.Verified(""))
}
