package protocol

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	imapv2 "github.com/emersion/go-imap/v2"
)

func TestClassifyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ExitCode
	}{
		{"nil is ok", nil, OK},
		{"reset is transient", errors.New("read tcp 1.2.3.4:993: connection reset by peer"), TransientNetwork},
		{"closed conn is transient", errors.New("use of closed network connection"), TransientNetwork},
		{"timeout is transient", fmt.Errorf("dial: %w", errors.New("i/o timeout")), TransientNetwork},
		{"no such host is transient", errors.New("dial tcp: lookup imap.example.com: no such host"), TransientNetwork},
		{"server NO is a protocol failure", errors.New("NO [AUTHENTICATIONFAILED] invalid credentials"), ProtocolFailure},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := classifyErr(c.err); got != c.want {
				t.Fatalf("classifyErr(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestExitCodeString(t *testing.T) {
	cases := map[ExitCode]string{
		OK:                  "ok",
		TransientNetwork:    "transient-network",
		ProtocolFailure:     "protocol-failure",
		UidValidityChanged:  "uid-validity-changed",
		UserCancelled:       "user-cancelled",
		Fatal:               "fatal",
		ExitCode(99):        "unknown",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Fatalf("ExitCode(%d).String() = %q, want %q", code, got, want)
		}
	}
}

func TestUidSetAddsEveryUID(t *testing.T) {
	set := uidSet([]uint32{3, 1, 4, 1, 5})
	s := set.String()
	for _, want := range []string{"3", "1", "4", "5"} {
		if !strings.Contains(s, want) {
			t.Fatalf("uidSet %q missing %s", s, want)
		}
	}
}

func TestFlagsFromMask(t *testing.T) {
	got := flagsFromMask(1<<0 | 1<<2)
	want := map[imapv2.Flag]bool{imapv2.FlagSeen: true, imapv2.FlagFlagged: true}
	if len(got) != len(want) {
		t.Fatalf("flagsFromMask = %v, want 2 flags", got)
	}
	for _, f := range got {
		if !want[f] {
			t.Fatalf("unexpected flag %v in %v", f, got)
		}
	}
}

func TestFlagsFromMaskEmpty(t *testing.T) {
	if got := flagsFromMask(0); len(got) != 0 {
		t.Fatalf("flagsFromMask(0) = %v, want empty", got)
	}
}
