package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/config"
	"github.com/modoterra/droidwatch/pkg/logcat"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestConfigValidateCommand(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "droidwatch.yaml")
	if err := config.Save(config.Default(), tmp); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "config", "validate", tmp)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("output: %q", out)
	}
}

func TestConfigValidateInvalid(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "bad.yaml")
	content := []byte(`version: 2
logs:
  min_level: loud
`)
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "config", "validate", tmp)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(out, "version") || !strings.Contains(out, "min_level") {
		t.Errorf("expected both problems reported, got %q", out)
	}
}

func TestConfigInit(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "droidwatch.yaml")
	if _, err := execute(t, "config", "init", "--output", tmp); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("generated config is empty")
	}
	if _, err := config.Parse(data); err != nil {
		t.Errorf("generated config does not parse: %v", err)
	}

	if _, err := execute(t, "config", "init", "--output", tmp); err == nil {
		t.Error("init should refuse to overwrite")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "droidwatch dev") {
		t.Errorf("output: %q", out)
	}
}

func rec(id string, level logcat.Level, tag, msg string) logcat.Record {
	return logcat.Record{ID: id, Raw: tag + ": " + msg, Level: level, Tag: tag, Message: msg}
}

func ids(records []logcat.Record) string {
	var parts []string
	for _, r := range records {
		parts = append(parts, r.ID)
	}
	return strings.Join(parts, ",")
}

func TestTailerNext(t *testing.T) {
	var tl tailer

	if got := tl.next(nil); got != nil {
		t.Errorf("empty buffer: %v", got)
	}

	// buffers are newest first
	first := []logcat.Record{rec("2", logcat.LevelInfo, "A", "b"), rec("1", logcat.LevelInfo, "A", "a")}
	if got := ids(tl.next(first)); got != "1,2" {
		t.Errorf("first: got %s, want 1,2", got)
	}

	if got := tl.next(first); len(got) != 0 {
		t.Errorf("unchanged buffer should yield nothing, got %s", ids(got))
	}

	second := append([]logcat.Record{rec("4", logcat.LevelInfo, "A", "d"), rec("3", logcat.LevelInfo, "A", "c")}, first...)
	if got := ids(tl.next(second)); got != "3,4" {
		t.Errorf("second: got %s, want 3,4", got)
	}

	// last seen record evicted or cleared
	third := []logcat.Record{rec("6", logcat.LevelInfo, "A", "f"), rec("5", logcat.LevelInfo, "A", "e")}
	if got := ids(tl.next(third)); got != "5,6" {
		t.Errorf("third: got %s, want 5,6", got)
	}
}

func TestPrinterFilters(t *testing.T) {
	buf := &bytes.Buffer{}
	p := &printer{out: buf, minLevel: logcat.LevelWarn, search: "net"}

	err := p.print(logcat.Snapshot{Entries: []logcat.Record{
		rec("3", logcat.LevelError, "Net", "timeout"),
		rec("2", logcat.LevelError, "Ui", "crash"),
		rec("1", logcat.LevelDebug, "Net", "retry"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != "Net: timeout" {
		t.Errorf("output: %q", got)
	}
}

func TestPrinterJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	p := &printer{out: buf, json: true}

	if err := p.print(logcat.Snapshot{Entries: []logcat.Record{rec("1", logcat.LevelInfo, "A", "hello")}}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"message":"hello"`) {
		t.Errorf("output: %q", buf.String())
	}
}

func TestPrintDevices(t *testing.T) {
	buf := &bytes.Buffer{}
	err := printDevices(buf, []adb.Device{
		{ID: "emulator-5554", State: "device", Model: "sdk_gphone64"},
		{ID: "192.168.1.20:5555", State: "offline", Wifi: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"SERIAL", "emulator", "wifi", "offline"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := printDevices(buf, nil); err != nil || !strings.Contains(buf.String(), "no devices") {
		t.Errorf("empty list: %q, %v", buf.String(), err)
	}
}
