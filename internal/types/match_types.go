package types

import "time"

// ContentHash 规范化文本的 SHA-256 十六进制指纹
type ContentHash string

// String 返回哈希字符串
func (h ContentHash) String() string {
	return string(h)
}

// ExtractionKind 表示结构化提取的数据类型
type ExtractionKind string

const (
	// ExtractionKindCV 简历提取
	ExtractionKindCV ExtractionKind = "cv"
	// ExtractionKindJob 岗位描述提取
	ExtractionKindJob ExtractionKind = "job"
)

// ExperienceEntry 工作经历条目
type ExperienceEntry struct {
	Title          string `json:"title"`
	DurationMonths int    `json:"duration_months"`
	Description    string `json:"description,omitempty"`
}

// StructuredProfile 简历经过LLM提取后的结构化数据
type StructuredProfile struct {
	Skills     []string          `json:"skills"`
	Experience []ExperienceEntry `json:"experience,omitempty"`
	Seniority  string            `json:"seniority,omitempty"`
	Summary    string            `json:"summary,omitempty"`
}

// SkillRequirement 岗位要求的技能，Weight <= 0 时按 1.0 计算
type SkillRequirement struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight,omitempty"`
}

// StructuredJob 岗位描述的结构化数据
type StructuredJob struct {
	RequiredSkills   []SkillRequirement `json:"required_skills"`
	Responsibilities []string           `json:"responsibilities,omitempty"`
	Seniority        string             `json:"seniority,omitempty"`
	EmploymentType   string             `json:"employment_type,omitempty"`
	Location         string             `json:"location,omitempty"`
	WorkArrangement  string             `json:"work_arrangement,omitempty"`
}

// ExtractedData 一次提取调用的结果，Profile 和 Job 只会有一个非空
type ExtractedData struct {
	Kind    ExtractionKind     `json:"kind"`
	Profile *StructuredProfile `json:"profile,omitempty"`
	Job     *StructuredJob     `json:"job,omitempty"`
}

// ExtractionRecord 以内容哈希为键的提取记录，写入后不可变
type ExtractionRecord struct {
	Hash        ContentHash `json:"hash"`
	ExtractedAt time.Time   `json:"extracted_at"`
	ExtractedData
}

// MatchResult 评分器输出
type MatchResult struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
	Gaps    []string `json:"gaps"`
}

// CandidateProfile 候选人池中的一项：身份信息 + 简历结构化数据
type CandidateProfile struct {
	CVID    ContentHash        `json:"cv_id"`
	Name    string             `json:"name"`
	Email   string             `json:"email"`
	Profile *StructuredProfile `json:"profile"`
}
