package webrsync

// BuildCommand assembles the argument vector for one transfer invocation.
//
// The vector always begins with the resolved binary path. Verbose takes
// precedence over quiet; the two flags never appear together.
func BuildCommand(binary string, verbose, quiet, keepSnapshots bool) []string {
	argv := []string{binary}

	switch {
	case verbose:
		argv = append(argv, "-v")
	case quiet:
		argv = append(argv, "-q")
	}

	if keepSnapshots {
		argv = append(argv, "-k")
	}
	return argv
}
