package inventory

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/switchyard-net/switchyard/internal/faults"
)

// Columns lists the recognised CSV headers in canonical order.
var Columns = []string{"hostname", "mgmt_ip", "mask", "gateway", "vendor", "model", "mgmt_vlan", "port"}

var requiredColumns = []string{"hostname", "mgmt_ip", "mask", "gateway"}

// ParseCSV reads a header-driven inventory. Headers are matched
// case-insensitively and unknown columns are ignored. A missing
// required column is reported as a validation error on row 0. A
// malformed record is kept as a row carrying its parse error so the
// validator reports it alongside the rows that did parse.
func ParseCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, faults.NewValidationError(faults.Issue{Message: "inventory is empty"})
	}
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return nil, faults.NewValidationError(faults.Issue{Message: "malformed csv header: " + perr.Err.Error()})
	}
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, seen := index[h]; !seen {
			index[h] = i
		}
	}

	var missing []faults.Issue
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, faults.Issue{Field: col, Message: "missing required column"})
		}
	}
	if len(missing) > 0 {
		return nil, faults.NewValidationError(missing...)
	}

	var rows []Row
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if errors.As(err, &perr) {
			rows = append(rows, Row{Line: line, malformed: perr.Err.Error()})
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read csv row %d", line)
		}

		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		rows = append(rows, Row{
			Line:     line,
			Hostname: get("hostname"),
			MgmtIP:   get("mgmt_ip"),
			Mask:     get("mask"),
			Gateway:  get("gateway"),
			Vendor:   get("vendor"),
			Model:    get("model"),
			MgmtVLAN: get("mgmt_vlan"),
			Port:     get("port"),
		})
	}

	return rows, nil
}
