package models

import "time"

// EffectiveStatus overlays the expiry policy on the stored status. An active
// certificate past its expiry date reads as expired; the stored value is
// never changed.
func EffectiveStatus(c Certificate, now time.Time) Status {
	if c.Status == StatusActive && now.After(c.ExpiryDate) {
		return StatusExpired
	}
	return c.Status
}

// CertificateView is what readers see: the stored record plus its effective status.
type CertificateView struct {
	Certificate
	EffectiveStatus Status
}

// IsCurrentlyValid reports whether the holder can present this certificate now.
func (v CertificateView) IsCurrentlyValid() bool {
	return v.EffectiveStatus == StatusActive
}

// Project applies EffectiveStatus to a single certificate.
func Project(c Certificate, now time.Time) CertificateView {
	return CertificateView{Certificate: c, EffectiveStatus: EffectiveStatus(c, now)}
}

// ProjectAll applies EffectiveStatus to each certificate, preserving order.
func ProjectAll(certs []Certificate, now time.Time) []CertificateView {
	views := make([]CertificateView, 0, len(certs))
	for _, c := range certs {
		views = append(views, Project(c, now))
	}
	return views
}

// ExpiryPolicy fixes certificate expiry to a calendar cutoff per issuance
// cycle rather than a duration from the issue date. Every certificate issued
// within one cycle expires at the same instant: the end of CutoffDay in
// CutoffMonth (UTC) that next follows the issue date.
type ExpiryPolicy struct {
	CutoffMonth time.Month
	CutoffDay   int
}

// DefaultExpiryPolicy runs cycles April to March.
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{CutoffMonth: time.March, CutoffDay: 31}
}

// ExpiryFor returns the expiry instant for a certificate issued at issuedAt.
func (p ExpiryPolicy) ExpiryFor(issuedAt time.Time) time.Time {
	issuedAt = issuedAt.UTC()
	cutoff := p.cutoffIn(issuedAt.Year())
	if !cutoff.After(issuedAt) {
		cutoff = p.cutoffIn(issuedAt.Year() + 1)
	}
	return cutoff
}

// cutoffIn returns the last instant of the cutoff day in year. Days beyond the
// month's length clamp to its final day so Feb 29 works in common years.
func (p ExpiryPolicy) cutoffIn(year int) time.Time {
	month := p.CutoffMonth
	if month < time.January || month > time.December {
		month = time.March
	}
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	day := p.CutoffDay
	if day < 1 || day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, 23, 59, 59, 0, time.UTC)
}
