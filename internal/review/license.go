package review

import (
	"encoding/json"
	"strings"

	spdxexp "github.com/github/go-spdx/v2/spdxexp"
)

// LicenseCheck reports whether a node's license field is a valid SPDX
// expression.
type LicenseCheck struct {
	Raw        string   `json:"raw,omitempty"`
	Expression string   `json:"expression,omitempty"`
	File       string   `json:"file,omitempty"`
	Valid      bool     `json:"valid"`
	Invalid    []string `json:"invalid,omitempty"`
}

// license fields are free text, or a pyproject style table serialized as
// JSON: {"text": "MIT"} or {"file": "LICENSE"}.
type licenseTable struct {
	Text string `json:"text"`
	File string `json:"file"`
}

// CheckLicense validates raw. A license that only points at a file cannot be
// checked and is reported as not valid with no invalid expressions.
func CheckLicense(raw string) LicenseCheck {
	lc := LicenseCheck{Raw: raw}
	expr := strings.TrimSpace(raw)

	if strings.HasPrefix(expr, "{") {
		var t licenseTable
		if err := json.Unmarshal([]byte(expr), &t); err == nil {
			lc.File = t.File
			expr = strings.TrimSpace(t.Text)
		}
	}
	if expr == "" {
		return lc
	}

	lc.Expression = expr
	valid, invalid := spdxexp.ValidateLicenses([]string{expr})
	lc.Valid = valid
	if !valid {
		lc.Invalid = invalid
	}
	return lc
}
