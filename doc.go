/*
Package websyncctl is a tool for keeping local package-repository trees in
sync with upstream snapshot distribution points.

websyncctl drives the external emerge-webrsync (or emerge-delta-webrsync)
transfer binary and gates each transfer on OpenPGP verification of the
snapshot signing key:
  - Verification-gated sync orchestration with guaranteed keyring cleanup
  - Isolated, disposable keyring environments with keyserver refresh
  - Delta or full snapshot transfer selection per repository
  - Kept-snapshot maintenance (list, verify, prune)
  - Concurrent sync of multiple repositories with per-tree locking

The main packages are:

	github.com/websyncctl/websyncctl/internal/webrsync  - Sync orchestration, gating, and configuration
	github.com/websyncctl/websyncctl/internal/openpgp   - Disposable keyring environments and keyserver refresh
	github.com/websyncctl/websyncctl/internal/snapshot  - Retained snapshot archive maintenance
	github.com/websyncctl/websyncctl/cmd/websyncctl     - Command-line interface
*/
package websyncctl
