package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"synchire-go/internal/apperr"
	"synchire-go/internal/processor"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const defaultMaxUploadBytes = 10 << 20

// CVHandler 简历提交接口，支持 multipart PDF 上传和 JSON 纯文本
type CVHandler struct {
	intake         CVIntake
	maxUploadBytes int64
}

// NewCVHandler maxUploadBytes <= 0 时限制为 10MB
func NewCVHandler(intake CVIntake, maxUploadBytes int64) *CVHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &CVHandler{intake: intake, maxUploadBytes: maxUploadBytes}
}

// cvTextRequest JSON 形式的简历提交
type cvTextRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Text  string `json:"text"`
}

// SubmitCV POST /api/v1/cvs
func (h *CVHandler) SubmitCV(ctx context.Context, c *app.RequestContext) {
	var (
		sub processor.CVSubmission
		err error
	)
	if strings.HasPrefix(string(c.ContentType()), "multipart/form-data") {
		sub, err = h.readMultipart(c)
	} else {
		var req cvTextRequest
		err = decodeJSON(c, "SubmitCV", &req)
		sub = processor.CVSubmission{Name: req.Name, Email: req.Email, Text: req.Text}
	}
	if err != nil {
		WriteError(ctx, c, err)
		return
	}

	result, err := h.intake.Submit(ctx, sub)
	if err != nil {
		WriteError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, result)
}

func (h *CVHandler) readMultipart(c *app.RequestContext) (processor.CVSubmission, error) {
	const op = "SubmitCV"
	sub := processor.CVSubmission{
		Name:  c.PostForm("name"),
		Email: c.PostForm("email"),
		Text:  c.PostForm("text"),
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		// 没有文件时允许只提交 text 字段
		if sub.Text != "" {
			return sub, nil
		}
		return sub, apperr.NewValidationError(op, "file or text is required")
	}
	if fileHeader.Size > h.maxUploadBytes {
		return sub, apperr.NewValidationError(op, fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes))
	}

	file, err := fileHeader.Open()
	if err != nil {
		return sub, apperr.NewValidationError(op, "unable to open uploaded file")
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(file, h.maxUploadBytes+1)); err != nil {
		return sub, apperr.NewValidationError(op, "unable to read uploaded file")
	}
	if int64(buf.Len()) > h.maxUploadBytes {
		return sub, apperr.NewValidationError(op, fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes))
	}
	sub.File = buf.Bytes()
	sub.FileName = fileHeader.Filename
	return sub, nil
}
