// internal/logger/styled.go
package logger

import (
	"log/slog"

	"github.com/relaygate/gatewayd/internal/util"
	"github.com/relaygate/gatewayd/theme"
)

// LogContext carries two argument sets for the same log line: UserArgs goes
// to every handler, DetailedArgs is only attached when the line is also
// written with DefaultDetailedCookie set (the file handler, in practice).
type LogContext struct {
	UserArgs     []any
	DetailedArgs []any
}

// StyledLogger is the logging surface used throughout the gateway for
// messages that benefit from host/provider highlighting when the terminal
// supports it. PrettyStyledLogger and PlainStyledLogger are its two
// implementations; callers should depend on this interface, not either
// concrete type.
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	InfoWithCount(msg string, count int, args ...any)
	InfoWithNumbers(msg string, numbers ...int64)

	InfoWithHost(msg string, host string, args ...any)
	WarnWithHost(msg string, host string, args ...any)
	ErrorWithHost(msg string, host string, args ...any)

	InfoWithProvider(msg string, provider string, args ...any)
	WarnWithProvider(msg string, provider string, args ...any)
	ErrorWithProvider(msg string, provider string, args ...any)

	InfoWithContext(msg string, endpoint string, ctx LogContext)
	WarnWithContext(msg string, endpoint string, ctx LogContext)
	ErrorWithContext(msg string, endpoint string, ctx LogContext)

	InfoConfigChange(oldHostCount, newHostCount int)

	GetUnderlying() *slog.Logger
	WithRequestID(requestID string) StyledLogger
	WithAttrs(attrs ...slog.Attr) StyledLogger
	With(args ...any) StyledLogger
}

// NewWithTheme builds the base slog.Logger plus a StyledLogger over it. The
// concrete implementation is chosen by whether the terminal handler will
// actually render colour - there is no point styling strings that are about
// to be JSON-encoded.
func NewWithTheme(cfg *Config) (*slog.Logger, StyledLogger, func(), error) {
	base, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.PrettyLogs && util.ShouldUseColors() {
		appTheme := theme.GetTheme(cfg.Theme)
		return base, NewPrettyStyledLogger(base, appTheme), cleanup, nil
	}

	return base, NewPlainStyledLogger(base), cleanup, nil
}

// toInterfaceSlice adapts a []string to the []any fmt.Sprintf wants.
func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}
