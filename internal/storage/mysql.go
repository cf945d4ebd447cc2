package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/config"
	"synchire-go/internal/storage/models"
	"synchire-go/internal/tracing"
	"synchire-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("synchire-go/storage/mysql")

type gormSpanKey struct{}

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("INSERT")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}
	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}

		newCtx, span := p.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, table),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", table),
			))
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if sql := db.Statement.SQL.String(); sql != "" {
			span.SetAttributes(attribute.String("db.statement", tracing.SafeSQL(sql)))
		}

		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// 未找到属于正常业务结果
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			span.SetAttributes(attribute.String("error.type", "database_error"))
			span.RecordError(db.Error)
			span.SetStatus(codes.Error, db.Error.Error())
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// WithDisableErrSkip 设置是否禁用错误跳过
func (p *GormTracingPlugin) WithDisableErrSkip(disable bool) *GormTracingPlugin {
	p.disableErrSkip = disable
	return p
}

// 确保MySQL实现了Repository接口
var _ Repository = (*MySQL)(nil)

// MySQL 持久化存储：岗位、候选人、申请、提取记录、面试会话与发件箱
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Warn
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database).WithDisableErrSkip(true)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg}
	if err := m.autoMigrateSchema(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}
	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	err := m.db.Session(&gorm.Session{Logger: silentLogger}).AutoMigrate(
		&models.Job{},
		&models.Candidate{},
		&models.Application{},
		&models.ExtractionRecord{},
		&models.InterviewSession{},
		&models.OutboxMessage{},
	)
	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// Ping 检查数据库连接
func (m *MySQL) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (m *MySQL) startSpan(ctx context.Context, name, operation, table string) (context.Context, trace.Span) {
	return mysqlTracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemMySQL,
			attribute.String("db.name", m.cfg.Database),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		))
}

func finishSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return
	}
	span.SetStatus(codes.Ok, "")
}

// GetJob 按ID读取岗位
func (m *MySQL) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	var row models.Job
	err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NewNotFoundError("GetJob", jobID, "job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("查询岗位失败: %w", err)
	}
	return row.ToDomain()
}

// SaveJob 新建或整体覆盖岗位
func (m *MySQL) SaveJob(ctx context.Context, job *types.Job) error {
	row, err := models.JobFromDomain(job)
	if err != nil {
		return err
	}
	return m.db.WithContext(ctx).Save(row).Error
}

// GetApplication 按ID读取申请
func (m *MySQL) GetApplication(ctx context.Context, applicationID string) (*types.Application, error) {
	var row models.Application
	err := m.db.WithContext(ctx).Where("application_id = ?", applicationID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NewNotFoundError("GetApplication", applicationID, "application not found")
	}
	if err != nil {
		return nil, fmt.Errorf("查询申请失败: %w", err)
	}
	return row.ToDomain(), nil
}

// FindApplication 按 (job_id, cv_id) 查找申请，不存在时返回 nil, nil
func (m *MySQL) FindApplication(ctx context.Context, jobID string, cvID types.ContentHash) (*types.Application, error) {
	var rows []models.Application
	err := m.db.WithContext(ctx).
		Where("job_id = ? AND cv_id = ?", jobID, string(cvID)).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("查询申请失败: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].ToDomain(), nil
}

// SaveApplication 以 application_id 为键整体写入申请
func (m *MySQL) SaveApplication(ctx context.Context, app *types.Application) (err error) {
	ctx, span := m.startSpan(ctx, "MySQL.SaveApplication", "INSERT_ON_DUPLICATE", "applications")
	defer func() {
		finishSpan(span, err)
		span.End()
	}()
	span.SetAttributes(
		attribute.String("application.id", app.ID),
		attribute.String("application.status", string(app.Status)),
	)

	row := models.ApplicationFromDomain(app)
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "application_id"}},
		UpdateAll: true,
	}).Create(row).Error
}

// GetApplicationsForJob 返回岗位下所有申请，按创建时间排序
func (m *MySQL) GetApplicationsForJob(ctx context.Context, jobID string) ([]*types.Application, error) {
	var rows []models.Application
	if err := m.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询岗位申请失败: %w", err)
	}
	out := make([]*types.Application, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

// ListInactiveApplications 返回 updated_at 早于 before 且未到终态的申请
func (m *MySQL) ListInactiveApplications(ctx context.Context, before time.Time, limit int) ([]*types.Application, error) {
	var rows []models.Application
	q := m.db.WithContext(ctx).
		Where("status NOT IN ? AND updated_at < ?",
			[]string{string(types.StatusScored), string(types.StatusExpired)}, before).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询过期申请失败: %w", err)
	}
	out := make([]*types.Application, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

// GetExtraction 读取提取记录
func (m *MySQL) GetExtraction(ctx context.Context, kind types.ExtractionKind, hash types.ContentHash) (*types.ExtractionRecord, bool, error) {
	var rows []models.ExtractionRecord
	if err := m.db.WithContext(ctx).
		Where("content_hash = ? AND kind = ?", string(hash), string(kind)).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, false, fmt.Errorf("查询提取记录失败: %w", err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	rec, err := rows[0].ToDomain()
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// SaveExtraction 写入提取记录，记录不可变，已存在时保持原值
func (m *MySQL) SaveExtraction(ctx context.Context, rec *types.ExtractionRecord) (err error) {
	ctx, span := m.startSpan(ctx, "MySQL.SaveExtraction", "INSERT_IGNORE", "extraction_records")
	defer func() {
		finishSpan(span, err)
		span.End()
	}()
	span.SetAttributes(
		attribute.String("extraction.kind", string(rec.Kind)),
		attribute.String("extraction.hash", rec.Hash.String()),
	)

	row, err := models.ExtractionFromDomain(rec)
	if err != nil {
		return err
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
}

// GetMostRecentCVExtraction 读取候选人简历的提取结果
func (m *MySQL) GetMostRecentCVExtraction(ctx context.Context, cvID types.ContentHash) (*types.ExtractionRecord, error) {
	var rows []models.ExtractionRecord
	if err := m.db.WithContext(ctx).
		Where("content_hash = ? AND kind = ?", string(cvID), string(types.ExtractionKindCV)).
		Order("extracted_at DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询简历提取记录失败: %w", err)
	}
	if len(rows) == 0 {
		return nil, apperr.NewNotFoundError("GetMostRecentCVExtraction", cvID.String(), "cv extraction not found")
	}
	return rows[0].ToDomain()
}

// SaveCandidate 登记候选人，同一简历再次提交时更新姓名和邮箱
func (m *MySQL) SaveCandidate(ctx context.Context, c *types.Candidate) error {
	row := &models.Candidate{
		CVID:      string(c.CVID),
		Name:      c.Name,
		Email:     c.Email,
		CreatedAt: c.CreatedAt,
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cv_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email"}),
	}).Create(row).Error
}

// ListCandidateProfiles 候选人池：所有候选人连同其简历提取结果，没有提取结果的候选人不参与匹配
func (m *MySQL) ListCandidateProfiles(ctx context.Context) (_ []types.CandidateProfile, err error) {
	ctx, span := m.startSpan(ctx, "MySQL.ListCandidateProfiles", "SELECT", "candidates")
	defer func() {
		finishSpan(span, err)
		span.End()
	}()

	var candidates []models.Candidate
	if err := m.db.WithContext(ctx).Order("created_at ASC").Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("查询候选人失败: %w", err)
	}
	if len(candidates) == 0 {
		return []types.CandidateProfile{}, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.CVID)
	}
	var records []models.ExtractionRecord
	if err := m.db.WithContext(ctx).
		Where("kind = ? AND content_hash IN ?", string(types.ExtractionKindCV), ids).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询简历提取记录失败: %w", err)
	}
	byHash := make(map[string]*types.StructuredProfile, len(records))
	for i := range records {
		rec, err := records[i].ToDomain()
		if err != nil || rec.Profile == nil {
			continue
		}
		byHash[records[i].ContentHash] = rec.Profile
	}

	out := make([]types.CandidateProfile, 0, len(candidates))
	for _, c := range candidates {
		profile, ok := byHash[c.CVID]
		if !ok {
			continue
		}
		out = append(out, types.CandidateProfile{
			CVID:    types.ContentHash(c.CVID),
			Name:    c.Name,
			Email:   c.Email,
			Profile: profile,
		})
	}
	span.SetAttributes(attribute.Int("candidates.count", len(out)))
	return out, nil
}

// SaveInterviewSession 写入面试会话
func (m *MySQL) SaveInterviewSession(ctx context.Context, s *types.InterviewSession) error {
	return m.db.WithContext(ctx).Save(models.InterviewSessionFromDomain(s)).Error
}

// CreateInterviewSession 只插入新会话，call_id 已存在时返回校验错误
func (m *MySQL) CreateInterviewSession(ctx context.Context, s *types.InterviewSession) error {
	res := m.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(models.InterviewSessionFromDomain(s))
	if res.Error != nil {
		return fmt.Errorf("写入面试会话失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errSessionExists(s.CallID)
	}
	return nil
}

// DeleteInterviewSession 删除面试会话
func (m *MySQL) DeleteInterviewSession(ctx context.Context, callID string) error {
	return m.db.WithContext(ctx).Where("call_id = ?", callID).Delete(&models.InterviewSession{}).Error
}

// GetInterviewSession 按 call_id 读取面试会话
func (m *MySQL) GetInterviewSession(ctx context.Context, callID string) (*types.InterviewSession, error) {
	var row models.InterviewSession
	err := m.db.WithContext(ctx).Where("call_id = ?", callID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NewNotFoundError("GetInterviewSession", callID, "interview session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("查询面试会话失败: %w", err)
	}
	return row.ToDomain(), nil
}

// ListActiveSessions 返回尚未完成的面试会话
func (m *MySQL) ListActiveSessions(ctx context.Context) ([]*types.InterviewSession, error) {
	var rows []models.InterviewSession
	if err := m.db.WithContext(ctx).
		Where("completed_at IS NULL").
		Order("scheduled_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询进行中的面试失败: %w", err)
	}
	out := make([]*types.InterviewSession, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

// EnqueueOutbox 写入一条待发布事件，同一 event_id 只保留一条
func (m *MySQL) EnqueueOutbox(ctx context.Context, msg *models.OutboxMessage) error {
	if msg.Status == "" {
		msg.Status = models.OutboxStatusPending
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(msg).Error
}
