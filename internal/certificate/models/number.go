package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	dErrors "certledger/pkg/domain-errors"
)

// serialWidth is the minimum zero-padded width of the serial segment.
const serialWidth = 5

// Scope is the unit of sequential numbering: role prefix, region and the
// year/month of issuance.
type Scope struct {
	Prefix string
	Region string
	Year   int
	Month  time.Month
}

// NewScope builds the numbering scope for a certificate issued at issuedAt.
func NewScope(prefix, region string, issuedAt time.Time) (Scope, error) {
	issuedAt = issuedAt.UTC()
	scope := Scope{
		Prefix: strings.ToUpper(strings.TrimSpace(prefix)),
		Region: strings.ToUpper(strings.TrimSpace(region)),
		Year:   issuedAt.Year(),
		Month:  issuedAt.Month(),
	}
	if err := scope.Validate(); err != nil {
		return Scope{}, err
	}
	return scope, nil
}

// Validate checks that the segments can be embedded in a certificate number.
func (s Scope) Validate() error {
	if !isSegment(s.Prefix) {
		return dErrors.New(dErrors.CodeInvalidInput, "role prefix must be 1-8 uppercase letters or digits")
	}
	if !isSegment(s.Region) {
		return dErrors.New(dErrors.CodeInvalidInput, "region must be 1-8 uppercase letters or digits")
	}
	if s.Year < 1000 || s.Year > 9999 {
		return dErrors.New(dErrors.CodeInvalidInput, "year out of range")
	}
	if s.Month < time.January || s.Month > time.December {
		return dErrors.New(dErrors.CodeInvalidInput, "month out of range")
	}
	return nil
}

// Key is the allocator counter key, e.g. "YM-CG-2025-11".
func (s Scope) Key() string {
	return fmt.Sprintf("%s-%s-%04d-%02d", s.Prefix, s.Region, s.Year, int(s.Month))
}

// FormatNumber renders a certificate number such as "YM-CG-2025-11-00007".
// Serials wider than five digits are printed in full.
func FormatNumber(scope Scope, serial int64) string {
	return fmt.Sprintf("%s-%0*d", scope.Key(), serialWidth, serial)
}

// ParseNumber splits a certificate number back into its scope and serial.
func ParseNumber(number string) (Scope, int64, error) {
	parts := strings.Split(number, "-")
	if len(parts) != 5 {
		return Scope{}, 0, dErrors.New(dErrors.CodeInvalidInput, "certificate number must have five segments")
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil || len(parts[2]) != 4 {
		return Scope{}, 0, dErrors.New(dErrors.CodeInvalidInput, "invalid year segment")
	}
	month, err := strconv.Atoi(parts[3])
	if err != nil || len(parts[3]) != 2 {
		return Scope{}, 0, dErrors.New(dErrors.CodeInvalidInput, "invalid month segment")
	}
	if len(parts[4]) < serialWidth {
		return Scope{}, 0, dErrors.New(dErrors.CodeInvalidInput, "serial segment too short")
	}
	serial, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil || serial < 1 {
		return Scope{}, 0, dErrors.New(dErrors.CodeInvalidInput, "invalid serial segment")
	}
	scope := Scope{Prefix: parts[0], Region: parts[1], Year: year, Month: time.Month(month)}
	if err := scope.Validate(); err != nil {
		return Scope{}, 0, err
	}
	return scope, serial, nil
}

func isSegment(s string) bool {
	if len(s) == 0 || len(s) > 8 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// DefaultRegion is the region segment used when none is configured.
const DefaultRegion = "CG"

// RolePolicy maps subject types to number prefixes and fixes the region.
type RolePolicy struct {
	Prefixes map[SubjectType]string
	Region   string
}

// DefaultRolePolicy numbers users YM and vendors YV in region CG.
func DefaultRolePolicy() RolePolicy {
	return RolePolicy{
		Prefixes: map[SubjectType]string{
			SubjectTypeUser:   "YM",
			SubjectTypeVendor: "YV",
		},
		Region: DefaultRegion,
	}
}

// ScopeFor returns the numbering scope for a subject type at issuedAt.
func (p RolePolicy) ScopeFor(subjectType SubjectType, issuedAt time.Time) (Scope, error) {
	prefix, ok := p.Prefixes[subjectType]
	if !ok {
		return Scope{}, dErrors.New(dErrors.CodeInvalidInput, "no number prefix for subject type "+string(subjectType))
	}
	region := p.Region
	if region == "" {
		region = DefaultRegion
	}
	return NewScope(prefix, region, issuedAt)
}
