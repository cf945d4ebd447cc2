// Package matching 计算候选人简历与岗位要求的匹配分
package matching

import (
	"fmt"
	"math"
	"sort"

	"synchire-go/internal/types"
)

const (
	// DefaultSkillWeight 技能重叠在总分中的占比
	DefaultSkillWeight = 0.70
	// DefaultSeniorityWeight 资历匹配在总分中的占比
	DefaultSeniorityWeight = 0.30
	// DefaultMaxListSize reasons/gaps 的最大长度
	DefaultMaxListSize = 5
)

// Scorer 纯函数式的评分器，可并发使用
type Scorer struct {
	skillWeight     float64
	seniorityWeight float64
	maxListSize     int
}

// ScorerOption 评分器选项
type ScorerOption func(*Scorer)

// WithWeights 设置技能和资历的权重，内部会归一化到和为1
func WithWeights(skill, seniority float64) ScorerOption {
	return func(s *Scorer) {
		if skill < 0 || seniority < 0 || skill+seniority <= 0 {
			return
		}
		total := skill + seniority
		s.skillWeight = skill / total
		s.seniorityWeight = seniority / total
	}
}

// WithMaxListSize 设置 reasons/gaps 的上限
func WithMaxListSize(n int) ScorerOption {
	return func(s *Scorer) {
		if n > 0 {
			s.maxListSize = n
		}
	}
}

// NewScorer 创建评分器
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{
		skillWeight:     DefaultSkillWeight,
		seniorityWeight: DefaultSeniorityWeight,
		maxListSize:     DefaultMaxListSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// requirement 合并去重后的岗位技能
type requirement struct {
	key     string
	display string
	weight  float64
	order   int
}

// signal 对总分有贡献的一项，用于生成 reasons
type signal struct {
	text         string
	contribution float64
	order        int
}

// Score 计算匹配分。相同输入永远得到相同输出。
func (s *Scorer) Score(profile *types.StructuredProfile, job *types.StructuredJob) types.MatchResult {
	if profile == nil {
		profile = &types.StructuredProfile{}
	}
	if job == nil {
		job = &types.StructuredJob{}
	}

	reqs := mergeRequirements(job.RequiredSkills)

	// 没有任何技能的简历直接记0分
	if len(profile.Skills) == 0 {
		return types.MatchResult{
			Score:   0,
			Reasons: []string{},
			Gaps:    s.gapsOf(reqs),
		}
	}

	have := make(map[string]struct{}, len(profile.Skills))
	for _, sk := range profile.Skills {
		have[CanonicalSkill(sk)] = struct{}{}
	}

	candidateLevel := ParseLevel(profile.Seniority)
	jobLevel := ParseLevel(job.Seniority)
	seniorityScore := seniorityCredit(candidateLevel, jobLevel)

	var totalWeight, matchedWeight float64
	var matched, missing []requirement
	for _, r := range reqs {
		totalWeight += r.weight
		if _, ok := have[r.key]; ok {
			matchedWeight += r.weight
			matched = append(matched, r)
		} else {
			missing = append(missing, r)
		}
	}

	var raw float64
	skillW, seniorityW := s.skillWeight, s.seniorityWeight
	if len(reqs) == 0 {
		// 岗位未列出技能时只看资历
		skillW, seniorityW = 0, 1
		raw = seniorityScore
	} else {
		raw = skillW*(matchedWeight/totalWeight) + seniorityW*seniorityScore
	}

	signals := make([]signal, 0, len(matched)+1)
	for _, r := range matched {
		signals = append(signals, signal{
			text:         r.display,
			contribution: skillW * r.weight / totalWeight,
			order:        r.order,
		})
	}
	if text := seniorityReason(candidateLevel, jobLevel, seniorityScore); text != "" {
		signals = append(signals, signal{
			text:         text,
			contribution: seniorityW * seniorityScore,
			order:        len(reqs),
		})
	}
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].contribution != signals[j].contribution {
			return signals[i].contribution > signals[j].contribution
		}
		return signals[i].order < signals[j].order
	})

	reasons := make([]string, 0, len(signals))
	for _, sg := range signals {
		if len(reasons) >= s.maxListSize {
			break
		}
		reasons = append(reasons, sg.text)
	}

	return types.MatchResult{
		Score:   clampScore(raw),
		Reasons: reasons,
		Gaps:    s.gapsOf(missing),
	}
}

// gapsOf 缺失技能按权重降序，权重相同按岗位中的顺序
func (s *Scorer) gapsOf(missing []requirement) []string {
	sorted := append([]requirement(nil), missing...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].weight != sorted[j].weight {
			return sorted[i].weight > sorted[j].weight
		}
		return sorted[i].order < sorted[j].order
	})
	gaps := make([]string, 0, len(sorted))
	for _, r := range sorted {
		if len(gaps) >= s.maxListSize {
			break
		}
		gaps = append(gaps, r.display)
	}
	return gaps
}

// mergeRequirements 规范化技能名并合并重复项，重复项取最大权重，保留首次出现的位置
func mergeRequirements(skills []types.SkillRequirement) []requirement {
	out := make([]requirement, 0, len(skills))
	index := make(map[string]int, len(skills))
	for _, sk := range skills {
		key := CanonicalSkill(sk.Name)
		if key == "" {
			continue
		}
		w := sk.Weight
		if w <= 0 {
			w = 1.0
		}
		if i, ok := index[key]; ok {
			if w > out[i].weight {
				out[i].weight = w
			}
			continue
		}
		index[key] = len(out)
		out = append(out, requirement{key: key, display: DisplaySkill(sk.Name), weight: w, order: len(out)})
	}
	return out
}

func seniorityReason(candidate, job Level, credit float64) string {
	if job == LevelUnknown || candidate == LevelUnknown || credit <= 0 {
		return ""
	}
	if candidate == job {
		return fmt.Sprintf("Seniority match: %s", job)
	}
	return fmt.Sprintf("Seniority close: %s vs %s", candidate, job)
}

func clampScore(raw float64) int {
	score := int(math.Round(100 * raw))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
