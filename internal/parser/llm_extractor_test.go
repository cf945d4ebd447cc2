package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 测试用LLM模型模拟器
type mockChatModel struct {
	response  string
	err       error
	calls     int
	lastInput []*schema.Message
}

func (m *mockChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.calls++
	m.lastInput = messages
	if m.err != nil {
		return nil, m.err
	}
	return &schema.Message{Role: schema.Assistant, Content: m.response}, nil
}

func (m *mockChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, nil
}

func (m *mockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func TestLLMExtractor_ExtractProfile(t *testing.T) {
	mock := &mockChatModel{response: "好的，结果如下：\n```json\n" + `{
		"skills": ["Python", "SQL", "python", " Go "],
		"experience": [{"title": "数据工程师", "duration_months": 36, "description": "负责数据仓库"}],
		"seniority": " senior ",
		"summary": "资深数据工程师"
	}` + "\n```"}
	e := NewLLMExtractor(mock, zerolog.Nop())

	profile, err := e.ExtractProfile(context.Background(), "张三 Python SQL Go 三年经验")
	require.NoError(t, err)
	assert.Equal(t, []string{"Python", "SQL", "Go"}, profile.Skills)
	assert.Equal(t, "senior", profile.Seniority)
	require.Len(t, profile.Experience, 1)
	assert.Equal(t, 36, profile.Experience[0].DurationMonths)

	require.Len(t, mock.lastInput, 2)
	assert.Equal(t, schema.System, mock.lastInput[0].Role)
	assert.Contains(t, mock.lastInput[1].Content, "张三 Python SQL Go 三年经验")
}

func TestLLMExtractor_ExtractJob(t *testing.T) {
	mock := &mockChatModel{response: `{
		"required_skills": [{"name": "Python", "weight": 1}, {"name": "SQL"}, {"name": ""}, {"name": "python", "weight": 0.5}, {"name": "Docker", "weight": 7}],
		"responsibilities": ["构建数据管道"],
		"seniority": "Senior",
		"work_arrangement": "remote"
	}`}
	e := NewLLMExtractor(mock, zerolog.Nop())

	job, err := e.ExtractJob(context.Background(), "Senior data engineer")
	require.NoError(t, err)
	require.Len(t, job.RequiredSkills, 3)
	assert.Equal(t, "Python", job.RequiredSkills[0].Name)
	assert.Equal(t, "SQL", job.RequiredSkills[1].Name)
	assert.Equal(t, 0.0, job.RequiredSkills[1].Weight)
	assert.Equal(t, 1.0, job.RequiredSkills[2].Weight, "越界权重按 1.0 处理")
	assert.Equal(t, "remote", job.WorkArrangement)
}

func TestLLMExtractor_SanitizesInnerQuotes(t *testing.T) {
	mock := &mockChatModel{response: `{"skills": ["Go"], "summary": "负责"核心"系统"}`}
	e := NewLLMExtractor(mock, zerolog.Nop())

	profile, err := e.ExtractProfile(context.Background(), "cv")
	require.NoError(t, err)
	assert.Equal(t, `负责"核心"系统`, profile.Summary)
}

func TestLLMExtractor_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewLLMExtractor(&mockChatModel{err: errors.New("429 Too Many Requests")}, zerolog.Nop()).ExtractProfile(ctx, "cv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = NewLLMExtractor(&mockChatModel{response: "   "}, zerolog.Nop()).ExtractJob(ctx, "job")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = NewLLMExtractor(&mockChatModel{response: "抱歉，我无法处理"}, zerolog.Nop()).ExtractJob(ctx, "job")
	assert.Error(t, err)

	_, err = NewLLMExtractor(nil, zerolog.Nop()).ExtractProfile(ctx, "cv")
	assert.Error(t, err)
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":{"b":"}"}}`, extractJSONObject(`prefix {"a":{"b":"}"}} suffix`))
	assert.Equal(t, "", extractJSONObject("no json"))
	assert.Equal(t, "", extractJSONObject(`{"unterminated": 1`))
}

func TestSanitizeJSON(t *testing.T) {
	assert.Equal(t, `{"k": "a \"b\" c"}`, sanitizeJSON(`{"k": "a "b" c"}`))
	assert.Equal(t, `{"k": "ok"}`, sanitizeJSON(`{"k": "ok"}`))
	assert.Equal(t, `{"k": "x\"y"}`, sanitizeJSON(`{"k": "x\"y"}`))
}
