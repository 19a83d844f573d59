package drug

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	missingField          = "정보없음"
	prescriptionCaution   = "※ 전문의약품입니다. 복용 전 반드시 의사 또는 약사와 상담하세요."
	defaultDetailMaxChars = 200
)

// NotFoundMessage is the user-facing reply when no catalog has the product.
func NotFoundMessage(name string) string {
	return fmt.Sprintf("'%s' 의약품 정보를 찾을 수 없습니다.", strings.TrimSpace(name))
}

// Format renders info for a chat reply. Long detail fields are cut to
// maxChars runes; efficacy gets half again as much room.
func Format(info *Info, maxChars int) string {
	if info == nil {
		return ""
	}
	if maxChars <= 0 {
		maxChars = defaultDetailMaxChars
	}

	var b strings.Builder
	fmt.Fprintf(&b, "약물명: %s\n", orMissing(info.Name))
	fmt.Fprintf(&b, "제조사: %s\n", orMissing(info.Manufacturer))

	switch info.Category {
	case CategoryPrescription:
		b.WriteString("구분: 전문의약품\n")
		fmt.Fprintf(&b, "주성분: %s\n", orMissing(truncateRunes(info.Ingredients, maxChars)))
		fmt.Fprintf(&b, "품목기준코드: %s\n", orMissing(info.ItemSeq))
		if info.ClassCode != "" {
			fmt.Fprintf(&b, "분류: %s\n", info.ClassCode)
		}
		if info.PermitDate != "" {
			fmt.Fprintf(&b, "허가일자: %s\n", info.PermitDate)
		}
		b.WriteString("\n")
		b.WriteString(prescriptionCaution)
	default:
		fmt.Fprintf(&b, "\n효능효과: %s\n", orMissing(truncateRunes(info.Efficacy, maxChars+maxChars/2)))
		fmt.Fprintf(&b, "\n사용방법: %s\n", orMissing(truncateRunes(info.Usage, maxChars)))
		fmt.Fprintf(&b, "\n주의사항: %s\n", orMissing(truncateRunes(info.Warnings, maxChars)))
		fmt.Fprintf(&b, "\n부작용: %s", orMissing(truncateRunes(info.SideEffects, maxChars)))
	}
	return strings.TrimSpace(b.String())
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit])) + "..."
}

func orMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return missingField
	}
	return s
}
