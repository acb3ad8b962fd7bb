package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures the GORM zap logger.
type GormLoggerConfig struct {
	Level                gormlogger.LogLevel
	SlowThreshold        time.Duration
	IgnoreRecordNotFound bool
	// LogParams keeps bound values in logged SQL. Only enable outside production.
	LogParams bool
}

// DefaultGormLoggerConfig returns production-safe defaults.
func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        200 * time.Millisecond,
		IgnoreRecordNotFound: true,
	}
}

// GormLogger implements gormlogger.Interface with zap-backed structured logging.
type GormLogger struct {
	level                gormlogger.LogLevel
	slowThreshold        time.Duration
	ignoreRecordNotFound bool
	logParams            bool
}

// NewGormLogger builds a new GormLogger.
func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{
		level:                cfg.Level,
		slowThreshold:        cfg.SlowThreshold,
		ignoreRecordNotFound: cfg.IgnoreRecordNotFound,
		logParams:            cfg.LogParams,
	}
}

// LogMode returns a logger with the updated level.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	copy := *l
	copy.level = level
	return &copy
}

// Info logs informational messages from GORM.
func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.message(ctx, zap.InfoLevel, msg, data)
	}
}

// Warn logs warning messages from GORM.
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.message(ctx, zap.WarnLevel, msg, data)
	}
}

// Error logs error messages from GORM.
func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.message(ctx, zap.ErrorLevel, msg, data)
	}
}

func (l *GormLogger) message(ctx context.Context, level zapcore.Level, msg string, data []interface{}) {
	fields := []zap.Field{zap.String("component", "gorm")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace logs SQL statements with structured fields.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error && (!errors.Is(err, gormlogger.ErrRecordNotFound) || !l.ignoreRecordNotFound):
		l.logQuery(ctx, fc, elapsed, err, zap.ErrorLevel)
	case l.slowThreshold != 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		l.logQuery(ctx, fc, elapsed, nil, zap.WarnLevel)
	case l.level >= gormlogger.Info:
		l.logQuery(ctx, fc, elapsed, nil, zap.DebugLevel)
	}
}

// ParamsFilter strips bound values unless LogParams is set.
func (l *GormLogger) ParamsFilter(ctx context.Context, sql string, params ...interface{}) (string, []interface{}) {
	_ = ctx
	if l.logParams {
		return sql, params
	}
	return sql, nil
}

func (l *GormLogger) logQuery(ctx context.Context, fc func() (string, int64), elapsed time.Duration, err error, level zapcore.Level) {
	sql, rows := fc()
	stmt := parseStatement(sql)
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", stmt.operation),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if stmt.table != "" {
		fields = append(fields, zap.String("table", stmt.table))
	}
	if stmt.locking {
		fields = append(fields, zap.Bool("row_lock", true))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	if ce := FromContext(ctx).Check(level, "gorm.query"); ce != nil {
		ce.Write(fields...)
	}
}

type statement struct {
	operation string
	table     string
	locking   bool
}

type sqlToken struct {
	word  string
	depth int
}

// parseStatement extracts the DML verb, the table it targets and whether the
// statement takes row locks. Verbs outside parentheses win over verbs inside
// them so a CTE does not mask the outer statement.
func parseStatement(sql string) statement {
	var tokens []sqlToken
	depth := 0
	for _, raw := range strings.Fields(sql) {
		leading := len(raw) - len(strings.TrimLeft(raw, "("))
		tokens = append(tokens, sqlToken{
			word:  strings.ToUpper(strings.Trim(raw, "();,")),
			depth: depth + leading,
		})
		depth += strings.Count(raw, "(") - strings.Count(raw, ")")
		if depth < 0 {
			depth = 0
		}
	}

	stmt := statement{operation: "UNKNOWN"}
	verb := -1
	for i, token := range tokens {
		if token.depth == 0 && isOperation(token.word) {
			verb = i
			break
		}
	}
	if verb < 0 {
		for i, token := range tokens {
			if isOperation(token.word) {
				verb = i
				break
			}
		}
	}
	if verb < 0 {
		return stmt
	}
	stmt.operation = tokens[verb].word

	marker := "FROM"
	switch stmt.operation {
	case "INSERT", "MERGE":
		marker = "INTO"
	case "UPDATE":
		marker = "UPDATE"
	}
	for i := verb; i < len(tokens)-1; i++ {
		if tokens[i].word == marker {
			stmt.table = strings.ToLower(strings.Trim(tokens[i+1].word, "\"`"))
			break
		}
	}
	for i := verb; i < len(tokens)-1; i++ {
		if tokens[i].word == "FOR" && tokens[i+1].word == "UPDATE" {
			stmt.locking = true
		}
	}
	return stmt
}

func isOperation(token string) bool {
	switch token {
	case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE":
		return true
	}
	return false
}

func operationFromSQL(sql string) string {
	return parseStatement(sql).operation
}

var _ gormlogger.Interface = (*GormLogger)(nil)
