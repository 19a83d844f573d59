// Package drug looks up medication information from the Korean MFDS public
// drug APIs. General (over-the-counter) products are searched first, then
// prescription-only products.
package drug

import (
	"errors"
	"fmt"
)

// Category distinguishes the two upstream catalogs.
type Category string

const (
	CategoryGeneral      Category = "general"
	CategoryPrescription Category = "prescription"
)

var (
	// ErrNotFound indicates no product matched in either catalog.
	ErrNotFound = errors.New("drug: not found")
	// ErrTimeout indicates an upstream call exceeded its deadline.
	ErrTimeout = errors.New("drug: upstream timeout")
	// ErrUpstream is matched by every *UpstreamError.
	ErrUpstream = errors.New("drug: upstream error")
)

// UpstreamError describes a non-timeout failure from a catalog endpoint.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Reason     string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("drug: %s endpoint returned %d: %s", e.Endpoint, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("drug: %s endpoint failed: %s", e.Endpoint, e.Reason)
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// Info is a normalized product record. Efficacy, Usage, Warnings and
// SideEffects are only populated for general products; Ingredients,
// ClassCode and PermitDate only for prescription products.
type Info struct {
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Category     Category `json:"category"`
	ItemSeq      string   `json:"item_seq,omitempty"`

	Efficacy    string `json:"efficacy,omitempty"`
	Usage       string `json:"usage,omitempty"`
	Warnings    string `json:"warnings,omitempty"`
	SideEffects string `json:"side_effects,omitempty"`

	Ingredients string `json:"ingredients,omitempty"`
	ClassCode   string `json:"class_code,omitempty"`
	PermitDate  string `json:"permit_date,omitempty"`
}
