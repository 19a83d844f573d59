package agent

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/tools"

	"github.com/wolfman30/prescription-ai-platform/internal/drug"
	"github.com/wolfman30/prescription-ai-platform/internal/prescription"
)

const (
	toolDrugLookup           = "drug_lookup"
	toolPrescriptionAnalysis = "prescription_analysis"
)

var digitsPattern = regexp.MustCompile(`\d+`)

// drugLookupTool answers with formatted catalog data. A miss is an answer,
// not an error.
type drugLookupTool struct {
	finder   DrugFinder
	maxChars int
}

var _ tools.Tool = drugLookupTool{}

func (drugLookupTool) Name() string { return toolDrugLookup }

func (drugLookupTool) Description() string {
	return "Looks up a medication by name in the Korean drug catalogs. " +
		"Input is the drug name only. Returns efficacy, usage, warnings and side effects."
}

func (t drugLookupTool) Call(ctx context.Context, input string) (string, error) {
	name := strings.Trim(strings.TrimSpace(input), `"'`)
	info, err := t.finder.Lookup(ctx, name)
	if err != nil {
		if errors.Is(err, drug.ErrNotFound) {
			return drug.NotFoundMessage(name), nil
		}
		return "", err
	}
	return drug.Format(info, t.maxChars), nil
}

// prescriptionTool is bound to one user so the model can only read that
// user's records.
type prescriptionTool struct {
	pipeline *Pipeline
	userID   string
}

var _ tools.Tool = prescriptionTool{}

func (prescriptionTool) Name() string { return toolPrescriptionAnalysis }

func (prescriptionTool) Description() string {
	return "Reads an uploaded prescription image. Input is the numeric prescription id. " +
		"Returns the drug names, dosage and frequency written on it."
}

func (t prescriptionTool) Call(ctx context.Context, input string) (string, error) {
	raw := digitsPattern.FindString(input)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return msgRxBadReference, nil
	}
	analysis, err := t.pipeline.Analyze(ctx, t.userID, id)
	if err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			return msgRxNotFound, nil
		}
		return "", err
	}
	return analysis.Text, nil
}

func toolCapability(name string) Capability {
	switch name {
	case toolDrugLookup:
		return CapabilityDrugLookup
	case toolPrescriptionAnalysis:
		return CapabilityVisionInference
	default:
		return CapabilityNone
	}
}
