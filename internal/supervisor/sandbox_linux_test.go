package supervisor

import "testing"

func TestBwrapPathDefaultsToBwrapName(t *testing.T) {
	// An empty sandboxBinary falls back to looking up "bwrap" itself;
	// this only asserts the two calls agree, not that bwrap is actually
	// installed on the test host.
	got := bwrapPath("")
	want := bwrapPath("bwrap")
	if got != want {
		t.Fatalf("got %q, want bwrapPath(\"\") == bwrapPath(\"bwrap\") (%q)", got, want)
	}
}
