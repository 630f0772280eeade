package execstate

import "testing"

func TestMachine_ForwardProgression(t *testing.T) {
	m := New()
	if m.Current() != PreStart {
		t.Fatalf("expected initial state PRE_START, got %s", m.Current())
	}

	if _, ok := m.EnterSensorValidation(); !ok {
		t.Fatal("expected Pre-start -> Sensor-validation to succeed")
	}
	if m.Current() != SensorValidation {
		t.Fatalf("expected SENSOR_VALIDATION, got %s", m.Current())
	}

	if _, ok := m.EnterRunning("drive"); !ok {
		t.Fatal("expected Sensor-validation -> Running to succeed")
	}
	if m.Current() != Running || m.Pipeline() != "drive" {
		t.Fatalf("expected Running(drive), got %s(%s)", m.Current(), m.Pipeline())
	}

	if _, ok := m.Terminate(); !ok {
		t.Fatal("expected Running -> Terminated to succeed")
	}
	if m.Current() != Terminated {
		t.Fatalf("expected TERMINATED, got %s", m.Current())
	}
}

func TestMachine_PipelineSwitchStaysAtRunningLevel(t *testing.T) {
	m := New()
	m.EnterSensorValidation()
	m.EnterRunning("drive")

	if _, ok := m.EnterRunning("recovery"); !ok {
		t.Fatal("expected a pipeline switch while already Running to succeed")
	}
	if m.Current() != Running {
		t.Fatalf("a pipeline switch must not change the lifecycle level, got %s", m.Current())
	}
	if m.Pipeline() != "recovery" {
		t.Fatalf("expected pipeline to be updated to recovery, got %s", m.Pipeline())
	}
}

func TestMachine_RejectsSkippingSensorValidation(t *testing.T) {
	m := New()
	if _, ok := m.EnterRunning("drive"); ok {
		t.Fatal("expected Pre-start -> Running to be rejected without passing through Sensor-validation")
	}
	if m.Current() != PreStart {
		t.Fatalf("expected state to remain PRE_START after a rejected transition, got %s", m.Current())
	}
}

func TestMachine_TerminatedIsAbsorbing(t *testing.T) {
	m := New()
	m.EnterSensorValidation()
	m.EnterRunning("drive")
	m.Terminate()

	if _, ok := m.Terminate(); ok {
		t.Fatal("expected a second Terminate call to report no transition")
	}
	if _, ok := m.EnterRunning("recovery"); ok {
		t.Fatal("expected Terminated to reject further transitions")
	}
	if m.Current() != Terminated {
		t.Fatalf("expected state to remain TERMINATED, got %s", m.Current())
	}
}

func TestState_IsTerminal(t *testing.T) {
	for _, tt := range []struct {
		s    State
		want bool
	}{
		{PreStart, false},
		{SensorValidation, false},
		{Running, false},
		{Terminated, true},
	} {
		if got := tt.s.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.s, got, tt.want)
		}
	}
}
