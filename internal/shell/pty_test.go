package shell

import "testing"

func TestPTYProcAttr_ControllingTerminalIsChildStdin(t *testing.T) {
	attr := ptyProcAttr()
	if !attr.Setsid || !attr.Setctty {
		t.Fatalf("attr=%+v", attr)
	}
	if attr.Ctty != 0 {
		t.Fatalf("ctty=%d, want the child's stdin", attr.Ctty)
	}
}
