package supervisor

// sandboxPlan is the resolved shape of how a child binary will be
// launched: either wrapped in a sandboxing tool, or run raw with no
// isolation guarantee on platforms/hosts where the tool is unavailable.
type sandboxPlan struct {
	// Name is the executable to run (the sandbox tool, or the binary
	// itself when Sandboxed is false).
	Name     string
	Args     []string
	Sandboxed bool
}
