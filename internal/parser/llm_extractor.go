package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"synchire-go/internal/tracing"
	"synchire-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrEmptyResponse LLM 返回空内容
var ErrEmptyResponse = errors.New("LLM returned empty response")

const profileSystemPrompt = "你是一位资深的招聘数据分析师，负责把简历文本转换为结构化JSON。只输出JSON对象，不要输出任何解释或Markdown标记。"

const profilePromptTemplate = `请阅读下面的【候选人简历】，提取结构化信息，并严格按照以下JSON格式输出：
{
  "skills": ["技能名称", ...],
  "experience": [{"title": "职位名称", "duration_months": 整数, "description": "一句话职责概述"}],
  "seniority": "intern | junior | mid | senior | lead | principal 之一",
  "summary": "不超过150字的候选人摘要"
}

**提取规则：**
- "skills" 只列出具体的技术或专业技能（如 Python、SQL、Kubernetes），按简历中出现的先后顺序，不要重复。
- "duration_months" 根据起止时间估算，无法判断时填 0。
- "seniority" 根据工作年限和职责综合判断，无法判断时填空字符串。
- 所有字符串值内部的双引号必须转义为 \"。

【候选人简历】:
"""
%s
"""`

const jobSystemPrompt = "你是一位资深的招聘数据分析师，负责把岗位描述转换为结构化JSON。只输出JSON对象，不要输出任何解释或Markdown标记。"

const jobPromptTemplate = `请阅读下面的【岗位描述】，提取结构化信息，并严格按照以下JSON格式输出：
{
  "required_skills": [{"name": "技能名称", "weight": 0到1之间的小数}],
  "responsibilities": ["职责描述", ...],
  "seniority": "intern | junior | mid | senior | lead | principal 之一",
  "employment_type": "full-time | part-time | contract | internship 之一",
  "location": "工作地点",
  "work_arrangement": "onsite | hybrid | remote 之一"
}

**提取规则：**
- "required_skills" 只列出岗位明确要求的具体技能；"必须/精通"类技能 weight 为 1.0，"熟悉/了解/加分"类技能 weight 为 0.5。
- 未提及的字段填空字符串或空数组。
- 所有字符串值内部的双引号必须转义为 \"。

【岗位描述】:
"""
%s
"""`

// LLMExtractor 基于大模型把简历/岗位文本转换为结构化数据
type LLMExtractor struct {
	llmModel model.ToolCallingChatModel
	logger   zerolog.Logger
}

// NewLLMExtractor 创建提取器
func NewLLMExtractor(llmModel model.ToolCallingChatModel, logger zerolog.Logger) *LLMExtractor {
	return &LLMExtractor{
		llmModel: llmModel,
		logger:   logger.With().Str("component", "llm_extractor").Logger(),
	}
}

// ExtractProfile 提取简历结构化数据
func (e *LLMExtractor) ExtractProfile(ctx context.Context, text string) (*types.StructuredProfile, error) {
	ctx, span := tracer.Start(ctx, "LLMExtractor.ExtractProfile")
	defer span.End()
	span.SetAttributes(attribute.Int("text.length", utf8.RuneCountInString(text)))

	jsonStr, err := e.generate(ctx, profileSystemPrompt, fmt.Sprintf(profilePromptTemplate, text))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	var profile types.StructuredProfile
	if err := unmarshalLenient(jsonStr, &profile); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("LLMExtractor: failed to unmarshal profile: %w", err)
	}
	normalizeProfile(&profile)
	span.SetAttributes(attribute.Int("profile.skills", len(profile.Skills)))
	return &profile, nil
}

// ExtractJob 提取岗位描述结构化数据
func (e *LLMExtractor) ExtractJob(ctx context.Context, text string) (*types.StructuredJob, error) {
	ctx, span := tracer.Start(ctx, "LLMExtractor.ExtractJob")
	defer span.End()
	span.SetAttributes(attribute.Int("text.length", utf8.RuneCountInString(text)))

	jsonStr, err := e.generate(ctx, jobSystemPrompt, fmt.Sprintf(jobPromptTemplate, text))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	var job types.StructuredJob
	if err := unmarshalLenient(jsonStr, &job); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("LLMExtractor: failed to unmarshal job: %w", err)
	}
	normalizeJob(&job)
	span.SetAttributes(attribute.Int("job.required_skills", len(job.RequiredSkills)))
	return &job, nil
}

func (e *LLMExtractor) generate(ctx context.Context, system, user string) (string, error) {
	if e.llmModel == nil {
		return "", fmt.Errorf("LLMExtractor: llmModel is not initialized")
	}
	messages := []*einoschema.Message{
		einoschema.SystemMessage(system),
		einoschema.UserMessage(user),
	}
	e.logger.Debug().Str("prompt", tracing.TruncateString(user, 300)).Msg("调用LLM提取")

	resp, err := e.llmModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("LLMExtractor: LLM call failed: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyResponse
	}

	content := strings.TrimPrefix(resp.Content, "\uFEFF")
	jsonStr := extractJSONObject(content)
	if jsonStr == "" {
		return "", fmt.Errorf("LLMExtractor: no JSON object in response: %s", tracing.TruncateString(content, 200))
	}
	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}
	return jsonStr, nil
}

// unmarshalLenient 先正常解析，失败后修复未转义的引号再试一次
func unmarshalLenient(jsonStr string, v any) error {
	err := json.Unmarshal([]byte(jsonStr), v)
	if err == nil {
		return nil
	}
	if fixErr := json.Unmarshal([]byte(sanitizeJSON(jsonStr)), v); fixErr != nil {
		return fmt.Errorf("%w (after sanitization: %v)", err, fixErr)
	}
	return nil
}

func normalizeProfile(p *types.StructuredProfile) {
	p.Skills = dedupeStrings(p.Skills)
	p.Seniority = strings.TrimSpace(p.Seniority)
	p.Summary = strings.TrimSpace(p.Summary)
	for i := range p.Experience {
		if p.Experience[i].DurationMonths < 0 {
			p.Experience[i].DurationMonths = 0
		}
	}
}

func normalizeJob(j *types.StructuredJob) {
	seen := make(map[string]struct{}, len(j.RequiredSkills))
	skills := j.RequiredSkills[:0]
	for _, s := range j.RequiredSkills {
		name := strings.TrimSpace(s.Name)
		key := strings.ToLower(name)
		if name == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if s.Weight < 0 || s.Weight > 1 {
			s.Weight = 1
		}
		s.Name = name
		skills = append(skills, s)
	}
	j.RequiredSkills = skills
	j.Seniority = strings.TrimSpace(j.Seniority)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// extractJSONObject 从文本中取出第一个完整的 JSON 对象，忽略字符串内的括号
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	inStr := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inStr:
			escaped = true
		case c == '"':
			inStr = !inStr
		case c == '{' && !inStr:
			level++
		case c == '}' && !inStr:
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeJSON 将字符串字面量内部未转义的双引号改写为 \"。
// 下一个非空白字符为 : , ] } 之一时才认为引号是字符串结束。
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		switch {
		case c == '"' && !escaped:
			if !inStr {
				inStr = true
				b.WriteByte(c)
				break
			}
			j := i + 1
			for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
				j++
			}
			if j < len(src) && (src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}') {
				inStr = false
				b.WriteByte(c)
			} else {
				b.WriteString("\\\"")
			}
		case c == '\\' && !escaped:
			escaped = true
			b.WriteByte(c)
			continue
		default:
			b.WriteByte(c)
		}
		escaped = false
	}

	return b.String()
}
