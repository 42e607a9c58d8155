package supervisor

import "testing"

func TestValidateArgsAcceptsPlainArgs(t *testing.T) {
	if err := validateArgs([]string{"--config", "/etc/cell/node.yaml"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateArgsRejectsShellMetacharacters(t *testing.T) {
	for _, bad := range []string{"$HOME", "a;b", "a|b", "a&b", "a<b", "a>b", "`whoami`"} {
		if err := validateArgs([]string{bad}); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
