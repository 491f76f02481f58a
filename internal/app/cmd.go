package app

import (
	"fmt"
	"io"
	"strings"
)

// Command は ebridge バイナリのサブコマンド。
type Command string

const (
	CommandServe   Command = "serve"
	CommandWorker  Command = "worker"
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessイメージのHEALTHCHECKから呼ばれる。
	// 設定の読み込みもDB接続も行わない。
	CommandHealthcheck Command = "healthcheck"
)

// commands はusage表示の順序を兼ねる。
var commands = []struct {
	cmd     Command
	summary string
}{
	{CommandServe, "ポータルAPIサーバーを起動する（既定）"},
	{CommandWorker, "期限切れセッションの掃除ワーカーを起動する"},
	{CommandMigrate, "データベースマイグレーションを適用して終了する"},
	{CommandHealthcheck, "稼働中サーバーの /health を確認する"},
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数なしはserve。未知のサブコマンドはエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}
	name := strings.ToLower(strings.TrimSpace(args[0]))
	for _, c := range commands {
		if string(c.cmd) == name {
			return c.cmd, nil
		}
	}
	return "", fmt.Errorf("unknown command %q", args[0])
}

// WriteUsage はサブコマンド一覧を書き出す。
func WriteUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: ebridge [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.summary)
	}
}
