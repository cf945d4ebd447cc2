package apperr

import (
	"errors"
	"fmt"

	"synchire-go/internal/types"

	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// Kind 错误分类，边界层根据它映射HTTP状态码
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindNotFound          Kind = "NOT_FOUND"
	KindStateTransition   Kind = "STATE_TRANSITION"
	KindExtractionFailure Kind = "EXTRACTION_FAILURE"
	KindDuplicateEvent    Kind = "DUPLICATE_EVENT"
	KindInternal          Kind = "INTERNAL"
)

// 基础错误，用于 errors.Is 判断
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("resource not found")
	ErrStateTransition   = errors.New("invalid state transition")
	ErrExtractionFailure = errors.New("extraction failed")
	ErrDuplicateEvent    = errors.New("duplicate event")
	ErrInternal          = errors.New("internal error")
)

var baseByKind = map[Kind]error{
	KindValidation:        ErrValidation,
	KindNotFound:          ErrNotFound,
	KindStateTransition:   ErrStateTransition,
	KindExtractionFailure: ErrExtractionFailure,
	KindDuplicateEvent:    ErrDuplicateEvent,
	KindInternal:          ErrInternal,
}

// Error 带上下文的领域错误
type Error struct {
	Kind    Kind   // 错误分类
	Op      string // 出错的操作
	ID      string // 相关实体ID（可选）
	BaseErr error  // 底层错误
	Detail  string // 附加信息
}

// Error 实现 error 接口
func (e *Error) Error() string {
	msg := e.Op
	if e.ID != "" {
		msg += fmt.Sprintf(" [%s]", e.ID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.BaseErr != nil {
		msg += ": " + e.BaseErr.Error()
	}
	return msg
}

// Unwrap 支持 errors.Unwrap
func (e *Error) Unwrap() error {
	return e.BaseErr
}

// Is 同类错误视为相等，也匹配该类的基础错误
func (e *Error) Is(target error) bool {
	if base, ok := baseByKind[e.Kind]; ok && target == base {
		return true
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, op, id, detail string, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Detail: detail, BaseErr: err}
}

// NewValidationError 输入校验失败
func NewValidationError(op, detail string) *Error {
	return newError(KindValidation, op, "", detail, nil)
}

// NewNotFoundError 资源不存在
func NewNotFoundError(op, id, detail string) *Error {
	return newError(KindNotFound, op, id, detail, nil)
}

// NewExtractionError 结构化提取失败
func NewExtractionError(op, hash string, err error) *Error {
	return newError(KindExtractionFailure, op, hash, "", err)
}

// NewDuplicateEventError 重复投递的事件
func NewDuplicateEventError(op, id string) *Error {
	return newError(KindDuplicateEvent, op, id, "", nil)
}

// NewInternalError 存储或其他内部错误
func NewInternalError(op, id string, err error) *Error {
	return newError(KindInternal, op, id, "", err)
}

// StateTransitionError 非法状态迁移，申请保持不变
type StateTransitionError struct {
	ApplicationID string
	Current       types.ApplicationStatus
	Attempted     types.ApplicationStatus
}

// Error 实现 error 接口
func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("application %s: cannot transition from %s to %s", e.ApplicationID, e.Current, e.Attempted)
}

// Is 匹配 ErrStateTransition
func (e *StateTransitionError) Is(target error) bool {
	return target == ErrStateTransition
}

// NewStateTransitionError 创建状态迁移错误
func NewStateTransitionError(applicationID string, current, attempted types.ApplicationStatus) *StateTransitionError {
	return &StateTransitionError{ApplicationID: applicationID, Current: current, Attempted: attempted}
}

// NewJobStatusError 岗位状态不允许的变更，岗位保持不变
func NewJobStatusError(jobID string, current, attempted types.JobStatus) *Error {
	return newError(KindStateTransition, "UpdateJobStatus", jobID,
		fmt.Sprintf("job status cannot change from %s to %s", current, attempted), nil)
}

// KindOf 返回错误链上第一个可识别的分类，未知错误归为 INTERNAL
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ste *StateTransitionError
	if errors.As(err, &ste) {
		return KindStateTransition
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	for kind, base := range baseByKind {
		if errors.Is(err, base) {
			return kind
		}
	}
	return KindInternal
}

// HTTPStatus 错误分类对应的HTTP状态码
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return consts.StatusBadRequest
	case KindNotFound:
		return consts.StatusNotFound
	case KindStateTransition:
		return consts.StatusConflict
	case KindExtractionFailure:
		return consts.StatusBadGateway
	case KindDuplicateEvent:
		return consts.StatusOK
	default:
		return consts.StatusInternalServerError
	}
}
