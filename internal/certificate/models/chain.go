package models

import (
	"fmt"

	id "certledger/pkg/domain"
)

// ChainError describes a broken renewal chain.
type ChainError struct {
	CertificateID id.CertificateID
	Reason        string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("renewal chain broken at %s: %s", e.CertificateID, e.Reason)
}

// WalkChain follows PreviousCertificateID links from newest back to the
// original issuance and returns the chain newest first. It fails when a link
// is missing, a cycle is found, the renewal count does not drop by exactly one
// per step, or the chain does not end at renewal count zero.
func WalkChain(newest Certificate, byID map[id.CertificateID]Certificate) ([]Certificate, error) {
	chain := []Certificate{newest}
	seen := map[id.CertificateID]struct{}{newest.ID: {}}
	current := newest
	for current.PreviousCertificateID != nil {
		prevID := *current.PreviousCertificateID
		if _, dup := seen[prevID]; dup {
			return nil, &ChainError{CertificateID: current.ID, Reason: "cycle detected"}
		}
		prev, ok := byID[prevID]
		if !ok {
			return nil, &ChainError{CertificateID: current.ID, Reason: "previous certificate missing"}
		}
		if prev.SubjectID != current.SubjectID {
			return nil, &ChainError{CertificateID: current.ID, Reason: "previous certificate belongs to another subject"}
		}
		if prev.RenewalCount != current.RenewalCount-1 {
			return nil, &ChainError{
				CertificateID: current.ID,
				Reason:        fmt.Sprintf("renewal count %d follows %d", current.RenewalCount, prev.RenewalCount),
			}
		}
		seen[prevID] = struct{}{}
		chain = append(chain, prev)
		current = prev
	}
	if current.RenewalCount != 0 {
		return nil, &ChainError{CertificateID: current.ID, Reason: "chain does not start at an original issuance"}
	}
	return chain, nil
}
