package matching

import (
	"strings"

	"synchire-go/internal/fingerprint"
)

// Level 资历等级，数值越大越资深
type Level int

const (
	LevelUnknown Level = iota
	LevelIntern
	LevelJunior
	LevelMid
	LevelSenior
	LevelLead
	LevelPrincipal
)

var levelNames = map[Level]string{
	LevelIntern:    "intern",
	LevelJunior:    "junior",
	LevelMid:       "mid",
	LevelSenior:    "senior",
	LevelLead:      "lead",
	LevelPrincipal: "principal",
}

var seniorityAliases = map[string]Level{
	"intern":        LevelIntern,
	"internship":    LevelIntern,
	"trainee":       LevelIntern,
	"junior":        LevelJunior,
	"jr":            LevelJunior,
	"entry":         LevelJunior,
	"entry level":   LevelJunior,
	"entry-level":   LevelJunior,
	"graduate":      LevelJunior,
	"mid":           LevelMid,
	"mid-level":     LevelMid,
	"mid level":     LevelMid,
	"middle":        LevelMid,
	"intermediate":  LevelMid,
	"senior":        LevelSenior,
	"sr":            LevelSenior,
	"sr.":           LevelSenior,
	"lead":          LevelLead,
	"staff":         LevelLead,
	"team lead":     LevelLead,
	"tech lead":     LevelLead,
	"principal":     LevelPrincipal,
	"architect":     LevelPrincipal,
	"distinguished": LevelPrincipal,
}

// distanceCredit 等级距离对应的得分
var distanceCredit = []float64{1.0, 0.6, 0.2}

// unknownCandidateCredit 候选人资历无法识别时的中性分
const unknownCandidateCredit = 0.5

// ParseLevel 解析资历描述，整体无法识别时按单词查找（如 "Senior Backend Engineer"），
// 仍无法识别时返回 LevelUnknown
func ParseLevel(s string) Level {
	key := fingerprint.Normalize(s)
	if lvl, ok := seniorityAliases[key]; ok {
		return lvl
	}
	for _, word := range strings.Fields(key) {
		if lvl, ok := seniorityAliases[strings.Trim(word, ",;()")]; ok {
			return lvl
		}
	}
	return LevelUnknown
}

// String 等级名称
func (l Level) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return "unknown"
}

// seniorityCredit 计算资历得分：岗位未要求记 1.0，候选人未知记 0.5
func seniorityCredit(candidate, job Level) float64 {
	if job == LevelUnknown {
		return 1.0
	}
	if candidate == LevelUnknown {
		return unknownCandidateCredit
	}
	d := int(candidate) - int(job)
	if d < 0 {
		d = -d
	}
	if d >= len(distanceCredit) {
		return 0
	}
	return distanceCredit[d]
}
