// Package agent decides how each chat turn is answered: a referenced
// prescription goes through vision analysis, drug questions go to the drug
// catalogs, and everything else is answered conversationally.
package agent

import (
	"context"
	"errors"

	"github.com/wolfman30/prescription-ai-platform/internal/conversation"
	"github.com/wolfman30/prescription-ai-platform/internal/drug"
)

// DefaultQuestion is asked when a prescription image arrives without text.
const DefaultQuestion = "这张处方上写了什么？"

// ClinicalPrompt is the fixed instruction sent with every prescription image.
const ClinicalPrompt = "以下是韩语处方\n请识别处方上的药品名称、剂量和服用频次。"

const (
	msgServiceFailure  = "죄송합니다. 서비스 처리 중 오류가 발생했습니다."
	msgGenerateFailure = "죄송합니다. 응답 생성 중 오류가 발생했습니다."
	msgAnalysisFailure = "죄송합니다. 처방전 분석에 실패했습니다. 잠시 후 다시 시도해주세요."
	msgAnalysisTimeout = "죄송합니다. 처방전 분석 시간이 초과되었습니다. 잠시 후 다시 시도해주세요."
	msgAskDrugName     = "어떤 약에 대해 알고 싶으신가요? 약 이름을 알려주세요."
	msgRxNotFound      = "해당 처방전을 찾을 수 없습니다."
	msgRxBadReference  = "처방전 번호를 확인할 수 없습니다."
	msgCapabilities    = "안녕하세요. 처방전 사진을 올려주시면 내용을 분석해 드리고, 궁금한 약 이름을 알려주시면 효능과 부작용 정보를 찾아 드립니다."
)

// ErrAnalysisFailed wraps every inference failure from the prescription
// pipeline. The record has already been marked failed when it is returned.
var ErrAnalysisFailed = errors.New("agent: prescription analysis failed")

// Capability is the closed set of tools a turn can use.
type Capability int

const (
	CapabilityNone Capability = iota
	CapabilityVisionInference
	CapabilityDrugLookup
)

func (c Capability) String() string {
	switch c {
	case CapabilityVisionInference:
		return "vision_inference"
	case CapabilityDrugLookup:
		return "drug_lookup"
	default:
		return "none"
	}
}

// Turn is what a Router sees: the utterance plus the user's recent history.
type Turn struct {
	UserID  string
	Text    string
	History []conversation.Turn
}

// Invocation records the tool a router used and the answer it produced.
// An empty Answer means the router did not answer and the turn falls
// through to general conversation.
type Invocation struct {
	Capability Capability
	Input      string
	Answer     string
}

// Router is a tool-selection strategy.
type Router interface {
	DecideAndInvoke(ctx context.Context, turn Turn) (Invocation, error)
}

// DrugFinder is satisfied by *drug.Client.
type DrugFinder interface {
	Lookup(ctx context.Context, name string) (*drug.Info, error)
}
