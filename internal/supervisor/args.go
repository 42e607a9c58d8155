package supervisor

import (
	"fmt"
	"strings"
)

// shellMetacharacters is the exact set spec.md names as disqualifying an
// argument from being passed to a spawned cell, regardless of sandbox
// policy: a refused argument never reaches exec even on platforms where
// the sandbox tool is unavailable.
const shellMetacharacters = "$`;|&<>"

func validateArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, shellMetacharacters) {
			return fmt.Errorf("supervisor: argument %q contains a disallowed shell metacharacter", arg)
		}
	}
	return nil
}
