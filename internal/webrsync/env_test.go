package webrsync

import "testing"

func TestApplyEnvironmentVariables(t *testing.T) {
	t.Setenv("WEBSYNCCTL_LOG_LEVEL", "debug")
	t.Setenv("WEBSYNCCTL_LOG_FORMAT", "json")
	t.Setenv("WEBSYNCCTL_KEYSERVER", "hkps://keys.openpgp.org")
	t.Setenv("WEBSYNCCTL_SNAPSHOT_DIR", "/srv/snapshots")

	config := NewConfig()
	if err := ApplyEnvironmentVariables(config); err != nil {
		t.Fatal(err)
	}

	if config.Log.Level != "debug" {
		t.Errorf(`config.Log.Level = %q, want "debug"`, config.Log.Level)
	}
	if config.Log.Format != "json" {
		t.Errorf(`config.Log.Format = %q, want "json"`, config.Log.Format)
	}
	if config.Keyserver != "hkps://keys.openpgp.org" {
		t.Errorf(`config.Keyserver = %q, want "hkps://keys.openpgp.org"`, config.Keyserver)
	}
	if config.SnapshotDir != "/srv/snapshots" {
		t.Errorf(`config.SnapshotDir = %q, want "/srv/snapshots"`, config.SnapshotDir)
	}
}

func TestApplyEnvironmentVariablesInvalid(t *testing.T) {
	t.Setenv("WEBSYNCCTL_KEYSERVER", "ftp://keys.example.org")

	config := NewConfig()
	if err := ApplyEnvironmentVariables(config); err == nil {
		t.Error("unsupported keyserver scheme should fail validation")
	}
}

func TestApplyEnvironmentVariablesNoOverrides(t *testing.T) {
	config := NewConfig()
	if err := ApplyEnvironmentVariables(config); err != nil {
		t.Fatal(err)
	}
	if config.Keyserver != defaultKeyserver {
		t.Errorf(`config.Keyserver = %q, want default`, config.Keyserver)
	}
}
