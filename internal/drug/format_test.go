package drug

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat_GeneralTruncatesDetails(t *testing.T) {
	info := &Info{
		Name:         "타이레놀정500밀리그람",
		Manufacturer: "한국얀센",
		Category:     CategoryGeneral,
		Efficacy:     strings.Repeat("가", 20),
		Usage:        "1회 1정",
		SideEffects:  strings.Repeat("나", 11),
	}

	out := Format(info, 10)
	assert.Contains(t, out, "약물명: 타이레놀정500밀리그람")
	assert.Contains(t, out, "효능효과: "+strings.Repeat("가", 15)+"...")
	assert.Contains(t, out, "사용방법: 1회 1정")
	assert.Contains(t, out, "주의사항: 정보없음")
	assert.Contains(t, out, "부작용: "+strings.Repeat("나", 10)+"...")
	assert.NotContains(t, out, "전문의약품")
}

func TestFormat_PrescriptionCarriesCaution(t *testing.T) {
	info := &Info{
		Name:         "Amoxicillin",
		Manufacturer: "종근당",
		Category:     CategoryPrescription,
		ItemSeq:      "199303108",
		Ingredients:  "아목시실린수화물",
	}

	out := Format(info, 0)
	assert.Contains(t, out, "구분: 전문의약품")
	assert.Contains(t, out, "주성분: 아목시실린수화물")
	assert.Contains(t, out, "품목기준코드: 199303108")
	assert.True(t, strings.HasSuffix(out, prescriptionCaution))
	assert.NotContains(t, out, "효능효과")
}

func TestNotFoundMessage(t *testing.T) {
	assert.Equal(t, "'타이레놀' 의약품 정보를 찾을 수 없습니다.", NotFoundMessage(" 타이레놀 "))
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"Tylenol", "tylenol", 1, 1},
		{"타이레놀 정", "타이레놀정", 1, 1},
		{"ＴＹＬＥＮＯＬ", "tylenol", 1, 1},
		{"amoxicilin", "Amoxicillin", 0.9, 0.92},
		{"aspirin", "ibuprofen", 0, 0.4},
	}
	for _, tt := range tests {
		got := Similarity(tt.a, tt.b)
		assert.GreaterOrEqualf(t, got, tt.min, "%s vs %s", tt.a, tt.b)
		assert.LessOrEqualf(t, got, tt.max, "%s vs %s", tt.a, tt.b)
	}
}
