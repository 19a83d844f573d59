package agent

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Phrases that signal a drug question. CJK phrases are matched as
// substrings, English ones as whole words.
var (
	intentPhrasesCJK = []string{
		"부작용", "효능", "효과", "복용", "용법", "용량", "주의사항", "성분", "먹어도", "먹으면", "약물", "의약품", "알약", "무슨 약", "어떤 약",
		"副作用", "功效", "用法", "用量", "服用", "药物", "药品", "成分", "注意事项",
	}
	intentWordsEN = map[string]struct{}{
		"drug": {}, "drugs": {}, "medicine": {}, "medication": {}, "dosage": {}, "dose": {},
		"pill": {}, "pills": {}, "tablet": {}, "tablets": {}, "side": {}, "effects": {},
	}
	// fillerPhrasesCJK are removed before the drug name is extracted.
	fillerPhrasesCJK = []string{
		"부작용", "효능", "효과", "복용법", "복용", "용법", "용량", "주의사항", "성분", "정보", "먹어도", "먹으면", "돼요", "되나요",
		"알려주세요", "알려줘요", "알려줘", "알려", "가르쳐줘", "궁금해요", "궁금해", "뭐야", "뭐예요", "뭔가요", "무엇인가요", "있나요", "있어", "대해서", "대해", "관련",
		"의약품", "약물", "알약",
		"副作用", "功效", "用法", "用量", "服用", "药物", "药品", "成分", "注意事项", "是什么", "什么", "告诉我", "请问", "怎么", "有哪些", "的",
	}
	stopwordsEN = map[string]struct{}{
		"what": {}, "whats": {}, "are": {}, "is": {}, "the": {}, "of": {}, "for": {}, "about": {}, "tell": {}, "me": {},
		"side": {}, "effects": {}, "effect": {}, "dosage": {}, "dose": {}, "drug": {}, "drugs": {}, "medicine": {},
		"medication": {}, "pill": {}, "pills": {}, "tablet": {}, "tablets": {}, "info": {}, "information": {},
		"how": {}, "to": {}, "take": {}, "can": {}, "i": {}, "a": {}, "an": {}, "please": {}, "does": {}, "do": {}, "with": {},
	}
	stopwordsKO = map[string]struct{}{
		"약": {}, "약은": {}, "약이": {}, "약의": {}, "그": {}, "이": {}, "이거": {}, "좀": {}, "제발": {}, "药": {},
	}
	// particles are trailing Korean postpositions, longest first.
	particles = []string{"에대해서", "에대해", "이랑", "하고", "에서", "으로", "은", "는", "이", "가", "을", "를", "의", "도", "랑", "와", "과", "에"}
)

func init() {
	sort.SliceStable(fillerPhrasesCJK, func(i, j int) bool {
		return utf8.RuneCountInString(fillerPhrasesCJK[i]) > utf8.RuneCountInString(fillerPhrasesCJK[j])
	})
}

// KeywordRouter sends drug questions to the drug catalogs using fixed
// keyword heuristics. It never calls a language model.
type KeywordRouter struct {
	tool drugLookupTool
}

var _ Router = (*KeywordRouter)(nil)

func NewKeywordRouter(finder DrugFinder, maxChars int) *KeywordRouter {
	if finder == nil {
		panic("agent: drug finder cannot be nil")
	}
	return &KeywordRouter{tool: drugLookupTool{finder: finder, maxChars: maxChars}}
}

func (r *KeywordRouter) DecideAndInvoke(ctx context.Context, turn Turn) (Invocation, error) {
	if !hasDrugIntent(turn.Text) {
		return Invocation{Capability: CapabilityNone}, nil
	}
	name := extractDrugName(turn.Text)
	inv := Invocation{Capability: CapabilityDrugLookup, Input: name}
	if name == "" {
		inv.Answer = msgAskDrugName
		return inv, nil
	}
	answer, err := r.tool.Call(ctx, name)
	if err != nil {
		return inv, err
	}
	inv.Answer = answer
	return inv, nil
}

func hasDrugIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range intentPhrasesCJK {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, w := range words(lower) {
		if _, ok := intentWordsEN[w]; ok {
			return true
		}
	}
	return false
}

// extractDrugName returns the first token left after removing question
// phrases, particles and stopwords.
func extractDrugName(text string) string {
	s := strings.ToLower(text)
	for _, p := range fillerPhrasesCJK {
		s = strings.ReplaceAll(s, p, " ")
	}
	for _, tok := range words(s) {
		tok = stripParticle(tok)
		if _, ok := stopwordsEN[tok]; ok {
			continue
		}
		if _, ok := stopwordsKO[tok]; ok {
			continue
		}
		if utf8.RuneCountInString(tok) < 2 {
			continue
		}
		return tok
	}
	return ""
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '-') || unicode.IsSymbol(r)
	})
}

func stripParticle(tok string) string {
	for _, p := range particles {
		if !strings.HasSuffix(tok, p) {
			continue
		}
		trimmed := strings.TrimSuffix(tok, p)
		if utf8.RuneCountInString(trimmed) >= 2 {
			return trimmed
		}
	}
	return tok
}
