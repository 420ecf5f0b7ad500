package webrsync

import "strings"

// Module-specific option names recognized in a repository's options table.
const (
	// OptDelta selects the delta-capable transfer binary.
	OptDelta = "sync-webrsync-delta"
	// OptVerifySignature enables OpenPGP verification of the snapshot.
	OptVerifySignature = "sync-webrsync-verify-signature"
	// OptKeepSnapshots keeps downloaded snapshot archives after syncing.
	OptKeepSnapshots = "sync-webrsync-keep-snapshots"
)

// ModuleOptions maps module-specific option names to their raw string values.
type ModuleOptions map[string]string

// Enabled reports whether the named option is switched on.
//
// Only the values "true" and "yes" (case-insensitive) enable an option.
// A missing key or any other value, including typos, counts as disabled.
func (o ModuleOptions) Enabled(name string) bool {
	switch strings.ToLower(o[name]) {
	case "true", "yes":
		return true
	}
	return false
}
