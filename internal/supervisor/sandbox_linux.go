package supervisor

import (
	"os"
	"os/exec"
)

// bwrapPath resolves sandboxBinary (a bare name or an absolute path) to
// an executable, or "" if unavailable.
func bwrapPath(sandboxBinary string) string {
	if sandboxBinary == "" {
		sandboxBinary = "bwrap"
	}
	path, err := exec.LookPath(sandboxBinary)
	if err != nil {
		return ""
	}
	return path
}

// buildSandboxPlan constructs the bwrap invocation spec.md names: a
// user-namespace tool launched with --unshare-all (network retained),
// capabilities dropped, a new session, readonly binds of the standard
// FHS directories, a private /tmp, the node's socket directory bound to
// /tmp/cell, the umbilical socket bound to /tmp/mitosis.sock, and a
// readonly bind of the binary itself. On hosts without the sandbox tool,
// the returned plan runs the binary directly with no isolation
// guarantee.
func buildSandboxPlan(binary, socketDir, umbilicalPath string, args []string, sandboxBinary string) sandboxPlan {
	tool := bwrapPath(sandboxBinary)
	if tool == "" {
		return sandboxPlan{Name: binary, Args: args, Sandboxed: false}
	}

	bwrapArgs := []string{
		"--unshare-all",
		"--share-net",
		"--die-with-parent",
		"--new-session",
		"--cap-drop", "ALL",
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/bin", "/bin",
		"--ro-bind", "/sbin", "/sbin",
		"--ro-bind", "/lib", "/lib",
	}
	if dirExists("/lib64") {
		bwrapArgs = append(bwrapArgs, "--ro-bind", "/lib64", "/lib64")
	}
	bwrapArgs = append(bwrapArgs,
		"--ro-bind", "/etc", "/etc",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--bind", socketDir, "/tmp/cell",
		"--bind", umbilicalPath, "/tmp/mitosis.sock",
		"--ro-bind", binary, "/tmp/dna",
		"/tmp/dna",
	)
	bwrapArgs = append(bwrapArgs, args...)

	return sandboxPlan{Name: tool, Args: bwrapArgs, Sandboxed: true}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
