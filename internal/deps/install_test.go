package deps

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestArgsDefault(t *testing.T) {
	in := &Installer{}
	name, args := in.Args()
	if name != "python3" {
		t.Errorf("name = %q, want python3", name)
	}
	if got := strings.Join(args, " "); got != "-m pip install --user hunter" {
		t.Errorf("args = %q", got)
	}
}

func TestArgsOverride(t *testing.T) {
	in := &Installer{Python: "/venv/bin/python", Command: []string{"uv", "pip", "install", "hunter"}}
	name, args := in.Args()
	if name != "uv" || strings.Join(args, " ") != "pip install hunter" {
		t.Errorf("got %q %v", name, args)
	}
}

func TestInstallSuccessWritesMarker(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var called []string
	in := &Installer{
		Python: "py",
		Runner: func(ctx context.Context, name string, args ...string) (string, error) {
			called = append(called, name+" "+strings.Join(args, " "))
			return "Successfully installed hunter", nil
		},
	}
	if IsInstalled() {
		t.Fatal("marker present before install")
	}
	if err := in.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(called) != 1 || called[0] != "py -m pip install --user hunter" {
		t.Errorf("runner calls = %v", called)
	}
	if !IsInstalled() {
		t.Error("marker missing after successful install")
	}
}

func TestInstallFailureReportsLastLine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	boom := errors.New("exit status 1")
	in := &Installer{
		Runner: func(ctx context.Context, name string, args ...string) (string, error) {
			return "Collecting hunter\nERROR: No matching distribution found for hunter\n", boom
		},
	}
	err := in.Install(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped runner error, got %v", err)
	}
	if !strings.Contains(err.Error(), "No matching distribution") {
		t.Errorf("error should carry pip's last line, got %q", err.Error())
	}
	if IsInstalled() {
		t.Error("marker written after a failed install")
	}
}
