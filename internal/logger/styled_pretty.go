package logger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relaygate/gatewayd/theme"
)

// PrettyStyledLogger implements StyledLogger with pterm-coloured hostnames,
// provider names and counters.
type PrettyStyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

func NewPrettyStyledLogger(logger *slog.Logger, t *theme.Theme) *PrettyStyledLogger {
	return &PrettyStyledLogger{logger: logger, theme: t}
}

func (sl *PrettyStyledLogger) Debug(msg string, args ...any) { sl.logger.Debug(msg, args...) }
func (sl *PrettyStyledLogger) Info(msg string, args ...any)  { sl.logger.Info(msg, args...) }
func (sl *PrettyStyledLogger) Warn(msg string, args ...any)  { sl.logger.Warn(msg, args...) }
func (sl *PrettyStyledLogger) Error(msg string, args ...any) { sl.logger.Error(msg, args...) }

func (sl *PrettyStyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Counts.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *PrettyStyledLogger) InfoWithNumbers(msg string, numbers ...int64) {
	formatted := make([]string, 0, len(numbers))
	for _, num := range numbers {
		formatted = append(formatted, sl.theme.Numbers.Sprint(num))
	}
	sl.logger.Info(fmt.Sprintf(msg, toInterfaceSlice(formatted)...))
}

func (sl *PrettyStyledLogger) InfoWithHost(msg string, host string, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, sl.theme.Host.Sprint(host)), args...)
}
func (sl *PrettyStyledLogger) WarnWithHost(msg string, host string, args ...any) {
	sl.logger.Warn(fmt.Sprintf("%s %s", msg, sl.theme.Host.Sprint(host)), args...)
}
func (sl *PrettyStyledLogger) ErrorWithHost(msg string, host string, args ...any) {
	sl.logger.Error(fmt.Sprintf("%s %s", msg, sl.theme.Host.Sprint(host)), args...)
}

func (sl *PrettyStyledLogger) InfoWithProvider(msg string, provider string, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, sl.theme.Provider.Sprint(provider)), args...)
}
func (sl *PrettyStyledLogger) WarnWithProvider(msg string, provider string, args ...any) {
	sl.logger.Warn(fmt.Sprintf("%s %s", msg, sl.theme.Provider.Sprint(provider)), args...)
}
func (sl *PrettyStyledLogger) ErrorWithProvider(msg string, provider string, args ...any) {
	sl.logger.Error(fmt.Sprintf("%s %s", msg, sl.theme.Provider.Sprint(provider)), args...)
}

func (sl *PrettyStyledLogger) InfoConfigChange(oldHostCount, newHostCount int) {
	sl.logger.Info(fmt.Sprintf("host map reloaded: %s -> %s hosts",
		sl.theme.Counts.Sprint(oldHostCount), sl.theme.Counts.Sprint(newHostCount)))
}

func (sl *PrettyStyledLogger) GetUnderlying() *slog.Logger { return sl.logger }

func (sl *PrettyStyledLogger) WithRequestID(requestID string) StyledLogger {
	return sl.With("request_id", requestID)
}

func (sl *PrettyStyledLogger) WithAttrs(attrs ...slog.Attr) StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return &PrettyStyledLogger{logger: sl.logger.With(args...), theme: sl.theme}
}

func (sl *PrettyStyledLogger) With(args ...any) StyledLogger {
	return &PrettyStyledLogger{logger: sl.logger.With(args...), theme: sl.theme}
}

func (sl *PrettyStyledLogger) InfoWithContext(msg string, endpoint string, ctx LogContext) {
	sl.logWithContext(LogLevelInfo, msg, endpoint, ctx)
}
func (sl *PrettyStyledLogger) WarnWithContext(msg string, endpoint string, ctx LogContext) {
	sl.logWithContext(LogLevelWarn, msg, endpoint, ctx)
}
func (sl *PrettyStyledLogger) ErrorWithContext(msg string, endpoint string, ctx LogContext) {
	sl.logWithContext(LogLevelError, msg, endpoint, ctx)
}

// logWithContext logs a clean, styled line to the console handlers and, when
// DetailedArgs is set, a second, fuller line tagged for the file handler.
func (sl *PrettyStyledLogger) logWithContext(level string, msg string, endpoint string, ctx LogContext) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Host.Sprint(endpoint))

	switch level {
	case LogLevelInfo:
		sl.logger.Info(styledMsg, ctx.UserArgs...)
	case LogLevelWarn:
		sl.logger.Warn(styledMsg, ctx.UserArgs...)
	case LogLevelError:
		sl.logger.Error(styledMsg, ctx.UserArgs...)
	}

	if len(ctx.DetailedArgs) > 0 {
		allArgs := make([]interface{}, 0, len(ctx.UserArgs)+len(ctx.DetailedArgs)+2)
		allArgs = append(allArgs, "endpoint", endpoint)
		allArgs = append(allArgs, ctx.UserArgs...)
		allArgs = append(allArgs, ctx.DetailedArgs...)

		detailedCtx := context.WithValue(context.Background(), DefaultDetailedCookie, true)

		switch level {
		case LogLevelInfo:
			sl.logger.InfoContext(detailedCtx, msg, allArgs...)
		case LogLevelWarn:
			sl.logger.WarnContext(detailedCtx, msg, allArgs...)
		case LogLevelError:
			sl.logger.ErrorContext(detailedCtx, msg, allArgs...)
		}
	}
}
