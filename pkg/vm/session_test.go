package vm

import (
	"bytes"
	"testing"

	"bfrvm/pkg/errors"
)

func TestNewSessionValidates(t *testing.T) {
	if _, err := NewSession(0); err == nil {
		t.Error("expected error for empty tape")
	}
	_, err := NewSession(8, WithMode(ModeJIT))
	if stage, _ := errors.StageOf(err); stage != errors.StageConfig {
		t.Errorf("jit mode without runtime: err = %v, want config-stage error", err)
	}
}

func TestSessionRun(t *testing.T) {
	var out bytes.Buffer
	s, err := NewSession(4, WithOutput(&out))
	if err != nil {
		t.Fatal(err)
	}
	if s.Mode() != ModeInterpreter {
		t.Errorf("mode = %v, want interpreter", s.Mode())
	}

	exit, err := s.Run([]byte("+++."))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exit.Kind != ExitCompleted {
		t.Errorf("exit = %v, want completed", exit.Kind)
	}
	if exit.Elapsed < 0 || exit.Compiled {
		t.Errorf("unexpected exit %+v", exit)
	}
	if !bytes.Equal(out.Bytes(), []byte{3}) {
		t.Errorf("output = %v, want [3]", out.Bytes())
	}
}

func TestUnmatchedBracketFailsBeforeExecution(t *testing.T) {
	for _, src := range []string{".[", ".]", "+.[[-]"} {
		for _, tier := range Tiers {
			var out bytes.Buffer
			s, err := NewSession(4, WithTier(tier), WithOutput(&out))
			if err != nil {
				t.Fatal(err)
			}
			_, err = s.Run([]byte(src))
			if stage, _ := errors.StageOf(err); stage != errors.StageResolve {
				t.Errorf("%q on %s tier: err = %v, want resolve-stage error", src, tier, err)
			}
			if out.Len() != 0 {
				t.Errorf("%q on %s tier: wrote %q before failing", src, tier, out.Bytes())
			}
		}
	}
}

func TestTapePersistsAcrossRuns(t *testing.T) {
	var out bytes.Buffer
	s, err := NewSession(2, WithOutput(&out))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.RunAt(0, []byte("+.")); err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(out.Bytes(), []byte{1, 2, 3}) {
		t.Errorf("output = %v, want [1 2 3]", out.Bytes())
	}

	s.Reset()
	out.Reset()
	if _, err := s.Run([]byte(">+.")); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), []byte{1}) || s.Tape().Cursor != 1 {
		t.Errorf("after Reset: output %v cursor %d", out.Bytes(), s.Tape().Cursor)
	}
}

func TestSessionBoundsExit(t *testing.T) {
	var out bytes.Buffer
	s, err := NewSession(1, WithOutput(&out))
	if err != nil {
		t.Fatal(err)
	}
	exit, err := s.Run([]byte(">"))
	if err != nil {
		t.Fatalf("bounds exit must not be an error: %v", err)
	}
	if exit.Kind != ExitBounds {
		t.Errorf("exit = %v, want bounds", exit.Kind)
	}
	if out.Len() != 0 {
		t.Errorf("wrote %q", out.Bytes())
	}
}

func TestParseModeAndTier(t *testing.T) {
	for _, m := range []ExecutionMode{ModeInterpreter, ModeJIT} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m, got, err)
		}
	}
	for _, tier := range Tiers {
		got, err := ParseTier(tier.String())
		if err != nil || got != tier {
			t.Errorf("ParseTier(%q) = %v, %v", tier, got, err)
		}
	}
	if _, err := ParseTier("turbo"); err == nil {
		t.Error("expected error for unknown tier")
	}
	t.Setenv(EnvMode, "interpreter")
	if ModeFromEnv(ModeJIT) != ModeInterpreter {
		t.Errorf("%s=interpreter not honoured", EnvMode)
	}
	t.Setenv(EnvMode, "")
	if ModeFromEnv(ModeJIT) != ModeJIT {
		t.Error("empty env should keep the default")
	}
}
