package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"no args", nil, CommandServe},
		{"empty arg", []string{""}, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"upper case", []string{"WORKER"}, CommandWorker},
		{"extra args ignored", []string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if err != nil {
				t.Fatalf("ParseCommand(%q) error = %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%q) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseCommand_UnknownIsError(t *testing.T) {
	cmd, err := ParseCommand([]string{"fetch"})
	if err == nil {
		t.Fatalf("ParseCommand([fetch]) = %q, want error", cmd)
	}
	if !strings.Contains(err.Error(), `"fetch"`) {
		t.Errorf("error = %q, want the command name", err)
	}
}

func TestWriteUsage_ListsEveryCommand(t *testing.T) {
	var buf bytes.Buffer
	WriteUsage(&buf)

	out := buf.String()
	for _, c := range commands {
		if !strings.Contains(out, string(c.cmd)) {
			t.Errorf("usage does not mention %q:\n%s", c.cmd, out)
		}
	}
}

func TestRun_UnknownCommandFailsBeforeInit(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(&buf, []string{"bogus"}); err == nil {
		t.Fatal("Run with unknown command should fail")
	}
	if buf.Len() != 0 {
		t.Errorf("no log output expected before init, got %q", buf.String())
	}
}
