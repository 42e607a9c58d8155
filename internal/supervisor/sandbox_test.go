package supervisor

import "testing"

func TestBuildSandboxPlanFallsBackWithoutSandboxTool(t *testing.T) {
	plan := buildSandboxPlan("/bin/true", "/tmp/sock", "/tmp/sock/x.mitosis.sock", nil, "cell-sandbox-tool-that-does-not-exist")
	if plan.Sandboxed {
		t.Fatalf("expected Sandboxed=false when the configured tool is not on PATH")
	}
	if plan.Name != "/bin/true" {
		t.Fatalf("got plan.Name %q, want the binary run directly", plan.Name)
	}
}
