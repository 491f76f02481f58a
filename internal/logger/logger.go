// Package logger はslogによるJSON構造化ログを設定する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveKeys の値はログに出さない。
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"access_token":  {},
	"refresh_token": {},
	"csrf_token":    {},
	"authorization": {},
}

// ParseLevel はLOG_LEVELの値をslog.Levelに変換する。
// debug/info/warn/errorのいずれでもない場合はinfoとする。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactSensitive(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}

// Setup はinfoレベルのロガーを返す。
func Setup(w io.Writer) *slog.Logger {
	return SetupWithLevel(w, slog.LevelInfo)
}

// SetupWithLevel はlevel以上を出力するJSONロガーを返す。
// パスワードやトークンの値は伏せ字にする。
func SetupWithLevel(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSensitive,
	}))
}

// SetupDefault はグローバルロガーを設定する。wがnilならos.Stdout。
func SetupDefault(w io.Writer, level string) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(SetupWithLevel(w, ParseLevel(level)))
}
