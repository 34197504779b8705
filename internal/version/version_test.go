package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFromBuildInfo(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	defer func() { Version, Commit = oldVersion, oldCommit }()

	Version, Commit = "", ""
	fromBuildInfo(&debug.BuildInfo{
		Main: debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	if Version != "v1.4.0" {
		t.Errorf("Version = %v, want v1.4.0", Version)
	}
	if Commit != "0123456-dirty" {
		t.Errorf("Commit = %v, want 0123456-dirty", Commit)
	}
}

func TestFromBuildInfo_DevelIgnored(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	defer func() { Version, Commit = oldVersion, oldCommit }()

	Version, Commit = "", "set"
	fromBuildInfo(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})

	if Version != "" {
		t.Errorf("Version = %v, want empty", Version)
	}
	if Commit != "set" {
		t.Errorf("Commit = %v, should keep ldflags value", Commit)
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if info.Version == "" || info.Commit == "" {
		t.Errorf("Get() = %+v, want version and commit set", info)
	}
	if !strings.Contains(info.Platform, "/") {
		t.Errorf("Platform = %v, want os/arch", info.Platform)
	}
	if !strings.Contains(Full(), info.Commit) {
		t.Errorf("Full() = %v, should contain commit", Full())
	}
}
