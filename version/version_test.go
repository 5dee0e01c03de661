package version

import (
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func saveAndRestore() func() {
	v, c, b, bt := Version, GitCommit, GitBranch, BuildTime
	return func() {
		Version, GitCommit, GitBranch, BuildTime = v, c, b, bt
	}
}

func TestFromBuildInfo_Defaults(t *testing.T) {
	defer saveAndRestore()()
	Version, GitCommit, GitBranch, BuildTime = "dev", "", "", ""

	info := fromBuildInfo(nil, false)
	if info.Version != "dev" {
		t.Errorf("expected version 'dev', got %q", info.Version)
	}
	if info.IsRelease {
		t.Error("dev should not be a release")
	}
	if !info.BuildDate.IsZero() {
		t.Error("expected no build date without build info")
	}
}

func TestFromBuildInfo_LinkerVariablesWin(t *testing.T) {
	defer saveAndRestore()()
	Version, GitCommit, GitBranch, BuildTime = "v1.2.0", "0123456789abcdef", "release", "2026-01-02T03:04:05Z"

	bi := &debug.BuildInfo{
		GoVersion: "go1.26.0",
		Main:      debug.Module{Path: "github.com/kbukum/stagekit", Version: "v9.9.9"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "ffffffffffff"},
			{Key: "vcs.time", Value: "2020-01-01T00:00:00Z"},
		},
	}
	info := fromBuildInfo(bi, true)

	if info.Version != "v1.2.0" {
		t.Errorf("expected linker version, got %q", info.Version)
	}
	if info.GitCommit != "0123456" {
		t.Errorf("expected short linker commit, got %q", info.GitCommit)
	}
	if info.BuildDate.Year() != 2026 {
		t.Errorf("expected linker build time, got %v", info.BuildDate)
	}
	if info.Module != "github.com/kbukum/stagekit" || info.GoVersion != "go1.26.0" {
		t.Errorf("unexpected module info %+v", info)
	}
	if !info.IsRelease {
		t.Error("expected a release build")
	}
}

func TestFromBuildInfo_FallsBackToModule(t *testing.T) {
	defer saveAndRestore()()
	Version, GitCommit, GitBranch, BuildTime = "dev", "", "", ""

	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abcdef1234"},
			{Key: "vcs.modified", Value: "true"},
			{Key: "vcs.time", Value: "2026-05-06T07:08:09Z"},
		},
	}
	info := fromBuildInfo(bi, true)

	if info.Version != "v0.3.1" || info.GitCommit != "abcdef1" || !info.IsDirty {
		t.Errorf("unexpected info %+v", info)
	}
	if info.IsRelease {
		t.Error("dirty builds are not releases")
	}
	if got := info.Short(); got != "v0.3.1-abcdef1-dirty" {
		t.Errorf("unexpected short version %q", got)
	}
}

func TestInfo_String(t *testing.T) {
	info := Info{
		Version:   "v1.0.0",
		GitCommit: "abc1234",
		GitBranch: "feature",
		BuildDate: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
	s := info.String()
	for _, want := range []string{"v1.0.0-abc1234", "feature", "2026-03-04T05:06:07Z"} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in %q", want, s)
		}
	}

	info.GitBranch = "main"
	if strings.Contains(info.String(), "main") {
		t.Error("main branch should be omitted")
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if info.Version == "" {
		t.Error("expected a version")
	}
}
