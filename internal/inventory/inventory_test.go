package inventory

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/testutil"
)

const fiveRows = `hostname,mgmt_ip,mask,gateway,vendor
sw-01,10.0.0.11,255.255.255.0,10.0.0.1,generic
sw-02,10.0.0.12,/24,10.0.0.1,cisco_ios
sw-03,10.0.0.999,24,10.0.0.1,
sw-04,10.0.0.14,255.255.255.0,10.0.0.1,cisco
sw-05,10.0.0.15,255.255.255.0,10.0.0.1,generic
`

func TestImportFiveRowsOneInvalid(t *testing.T) {
	db := testutil.OpenTestDB(t)
	job := &models.Job{ID: uuid.New(), Name: "lab"}
	require.NoError(t, db.Create(job).Error)

	rows, err := ParseCSV(strings.NewReader(fiveRows))
	require.NoError(t, err)
	require.Len(t, rows, 5)

	res, err := Import(context.Background(), db, job.ID, rows)
	require.NoError(t, err)

	assert.Len(t, res.Accepted, 4)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Row)
	assert.Equal(t, "mgmt_ip", res.Errors[0].Field)
	assert.Equal(t, "invalid IPv4", res.Errors[0].Message)
	assert.Equal(t, "10.0.0.99", res.Errors[0].Suggestion)

	testutil.AssertCount(t, db, &models.Device{}, 4)

	var stored models.Devices
	require.NoError(t, db.Order("seq").Find(&stored).Error)
	for i, d := range stored {
		assert.Nil(t, d.Port)
		assert.Equal(t, int64(i+1), d.Seq)
		assert.Equal(t, "255.255.255.0", d.Mask)
	}
	assert.Equal(t, models.VendorCisco, stored[1].Vendor)
}

func TestImportKeepsGoodRowsAroundMalformedRecord(t *testing.T) {
	db := testutil.OpenTestDB(t)
	job := &models.Job{ID: uuid.New(), Name: "lab"}
	require.NoError(t, db.Create(job).Error)

	rows, err := ParseCSV(strings.NewReader(`hostname,mgmt_ip,mask,gateway
sw-01,10.0.0.11,24,10.0.0.1
sw-02,10.0.0.12,24,10.0.0.1
sw"03,10.0.0.13,24,10.0.0.1
sw-04,10.0.0.14,24,10.0.0.1
`))
	require.NoError(t, err)
	require.Len(t, rows, 4)

	res, err := Import(context.Background(), db, job.ID, rows)
	require.NoError(t, err)

	require.Len(t, res.Accepted, 3)
	assert.Equal(t, "sw-04", res.Accepted[2].Hostname)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Row)
	assert.Contains(t, res.Errors[0].Message, "malformed csv record")

	testutil.AssertCount(t, db, &models.Device{}, 3)
}

func TestImportContinuesSequenceAndChecksExisting(t *testing.T) {
	db := testutil.OpenTestDB(t)
	job, _ := testutil.SeedJob(t, db, 2)

	res, err := Import(context.Background(), db, job.ID, []Row{
		{Line: 1, Hostname: "SW-01", MgmtIP: "10.0.0.50", Mask: "24", Gateway: "10.0.0.1"},
		{Line: 2, Hostname: "sw-03", MgmtIP: "10.0.0.51", Mask: "24", Gateway: "10.0.0.1", Port: "2"},
		{Line: 3, Hostname: "sw-04", MgmtIP: "10.0.0.52", Mask: "24", Gateway: "10.0.0.1", Port: "3"},
	})
	require.NoError(t, err)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, "hostname", res.Errors[0].Field)
	assert.Equal(t, "port", res.Errors[1].Field)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, int64(3), res.Accepted[0].Seq)
	require.NotNil(t, res.Accepted[0].Port)
	assert.Equal(t, 3, *res.Accepted[0].Port)
}

func TestImportUnknownJob(t *testing.T) {
	db := testutil.OpenTestDB(t)

	_, err := Import(context.Background(), db, uuid.New(), nil)
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestCreateUsesRowValidation(t *testing.T) {
	db := testutil.OpenTestDB(t)
	job, _ := testutil.SeedJob(t, db, 1)

	_, err := Create(context.Background(), db, job.ID, Row{Hostname: "bad host", MgmtIP: "10.0.0.5", Mask: "24", Gateway: "10.0.0.1"})
	require.ErrorIs(t, err, faults.ErrValidation)

	var ve *faults.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "bad-host", ve.Issues[0].Suggestion)

	d, err := Create(context.Background(), db, job.ID, Row{Hostname: "edge-1", MgmtIP: "10.0.0.5", Mask: "24", Gateway: "10.0.0.1", MgmtVLAN: "10"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.Seq)
	require.NotNil(t, d.MgmtVLAN)
	assert.Equal(t, 10, *d.MgmtVLAN)
	testutil.AssertCount(t, db, &models.Device{}, 2)
}

func TestUpdateAssignsAndClearsPort(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	_, devices := testutil.SeedJob(t, db, 2)

	taken := 2
	_, err := Update(ctx, db, devices[0].ID, Patch{Port: &taken})
	require.ErrorIs(t, err, faults.ErrValidation)

	free := 9
	d, err := Update(ctx, db, devices[0].ID, Patch{Port: &free})
	require.NoError(t, err)
	require.NotNil(t, d.Port)
	assert.Equal(t, 9, *d.Port)

	// keeping its own hostname is not a duplicate
	same := "sw-01"
	_, err = Update(ctx, db, devices[0].ID, Patch{Hostname: &same})
	require.NoError(t, err)

	none := 0
	d, err = Update(ctx, db, devices[0].ID, Patch{Port: &none})
	require.NoError(t, err)
	assert.Nil(t, d.Port)

	var stored models.Device
	require.NoError(t, db.First(&stored, "id = ?", devices[0].ID).Error)
	assert.Nil(t, stored.Port)

	_, err = Update(ctx, db, uuid.New(), Patch{})
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestMutationRejectedDuringActiveRun(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	job, devices := testutil.SeedJob(t, db, 1)

	r := testutil.SeedRun(t, db, job.ID)
	require.NoError(t, db.Model(r).Update("status", models.RunStatusRunning).Error)

	port := 5
	_, err := Update(ctx, db, devices[0].ID, Patch{Port: &port})
	assert.ErrorIs(t, err, faults.ErrConflict)
	assert.ErrorIs(t, Remove(ctx, db, devices[0].ID), faults.ErrConflict)

	require.NoError(t, db.Model(r).Update("status", models.RunStatusSuccess).Error)
	require.NoError(t, Remove(ctx, db, devices[0].ID))
	testutil.AssertCount(t, db, &models.Device{}, 0)
}

func TestRowCollectsEveryFailingField(t *testing.T) {
	v := NewValidator(uuid.New(), nil)

	_, issues := v.Row(Row{Line: 7, Hostname: "", MgmtIP: "x", Mask: "255.0.255.0", Gateway: "10.0.0.1", Vendor: "juniper", MgmtVLAN: "5000", Port: "17"})

	fields := make([]string, len(issues))
	for i, issue := range issues {
		fields[i] = issue.Field
		assert.Equal(t, 7, issue.Row)
	}
	assert.Equal(t, []string{"hostname", "mgmt_ip", "mask", "vendor", "mgmt_vlan", "port"}, fields)
}

func TestRowRejectedDoesNotReserveHostname(t *testing.T) {
	v := NewValidator(uuid.New(), nil)

	_, issues := v.Row(Row{Hostname: "sw-1", MgmtIP: "bad", Mask: "24", Gateway: "10.0.0.1"})
	require.NotEmpty(t, issues)

	d, issues := v.Row(Row{Hostname: "sw-1", MgmtIP: "10.0.0.2", Mask: "24", Gateway: "10.0.0.1"})
	require.Empty(t, issues)
	assert.Equal(t, "sw-1", d.Hostname)
}

func TestParseCSVMissingColumns(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("hostname,mask\nsw-1,24\n"))
	require.ErrorIs(t, err, faults.ErrValidation)

	var ve *faults.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Issues, 2)
	assert.Equal(t, "mgmt_ip", ve.Issues[0].Field)
	assert.Equal(t, "gateway", ve.Issues[1].Field)

	_, err = ParseCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, faults.ErrValidation)

	_, err = ParseCSV(strings.NewReader("host\"name,mgmt_ip,mask,gateway\n"))
	assert.ErrorIs(t, err, faults.ErrValidation)
}

func TestParseCSVHeaderCaseAndOrder(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader("\ufeffGateway, Hostname ,MGMT_IP,Mask,extra\n10.0.0.1,sw-9,10.0.0.9,24,ignored\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{Line: 1, Hostname: "sw-9", MgmtIP: "10.0.0.9", Mask: "24", Gateway: "10.0.0.1"}, rows[0])
}

func TestNormalizeMask(t *testing.T) {
	cases := map[string]struct {
		dotted string
		bits   int
		ok     bool
	}{
		"255.255.255.0":   {"255.255.255.0", 24, true},
		"/24":             {"255.255.255.0", 24, true},
		"30":              {"255.255.255.252", 30, true},
		"255.255.255.255": {"255.255.255.255", 32, true},
		"255.0.255.0":     {"", 0, false},
		"0.0.0.0":         {"", 0, false},
		"/0":              {"", 0, false},
		"/33":             {"", 0, false},
		"abc":             {"", 0, false},
	}

	for in, want := range cases {
		dotted, bits, ok := NormalizeMask(in)
		assert.Equal(t, want.ok, ok, in)
		assert.Equal(t, want.dotted, dotted, in)
		assert.Equal(t, want.bits, bits, in)
	}
}

func TestSuggestIPv4(t *testing.T) {
	cases := map[string]string{
		"10.0.0.999":   "10.0.0.99",
		"10,0,0,5":     "10.0.0.5",
		"10..0.0.5":    "10.0.0.5",
		" 10.0.0.5 x":  "",
		"10.0.0":       "",
		"192.168.1.01": "192.168.1.1",
		"10.0.0.5":     "",
		"300.1.1.1":    "30.1.1.1",
	}

	for in, want := range cases {
		assert.Equal(t, want, SuggestIPv4(in), in)
	}
}

func TestSubnetAndBroadcast(t *testing.T) {
	p, ok := Subnet("10.0.0.11", "/24")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.0/24", p.String())
	assert.Equal(t, "10.0.0.255", Broadcast(p).String())

	_, ok = Subnet("10.0.0.11", "bogus")
	assert.False(t, ok)
}
