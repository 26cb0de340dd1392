package trust

import (
	"testing"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
)

var assignable = []Level{Read, Write, Admin, Sysop}

func TestIsAllowed_SysopSatisfiesEverything(t *testing.T) {
	for _, required := range []Level{All, None, Read, Write, Admin, Sysop} {
		if !IsAllowed(Sysop, required) {
			t.Errorf("SYSOP should satisfy %s", required)
		}
	}
}

func TestIsAllowed_AllAcceptsAnyLevel(t *testing.T) {
	for _, actual := range []Level{All, None, Read, Write, Admin, Sysop} {
		if !IsAllowed(actual, All) {
			t.Errorf("%s should satisfy ALL", actual)
		}
	}
}

func TestIsAllowed_Ordering(t *testing.T) {
	tests := []struct {
		actual   Level
		required Level
		allowed  bool
	}{
		{Read, Read, true},
		{Read, Write, false},
		{Read, Admin, false},
		{Write, Read, true},
		{Write, Admin, false},
		{Admin, Write, true},
		{Admin, Sysop, false},
		{None, Read, false},
	}

	for _, tt := range tests {
		if got := IsAllowed(tt.actual, tt.required); got != tt.allowed {
			t.Errorf("IsAllowed(%s, %s) = %v, expected %v", tt.actual, tt.required, got, tt.allowed)
		}
	}
}

func TestCheck(t *testing.T) {
	if err := Check("alice", Write, WriteData); err != nil {
		t.Errorf("WRITE should be allowed to write data, got %v", err)
	}

	err := Check("alice", Read, WriteData)
	if !failures.IsAuthorizationError(err) {
		t.Fatalf("Expected AuthorizationError, got %v", err)
	}

	if err := Check("nobody", None, SignDocument); err != nil {
		t.Errorf("Signing requires no trust level, got %v", err)
	}

	if Required("SOMETHING_NEW") != Sysop {
		t.Error("Unknown permissions should require SYSOP")
	}
}

func TestParseLevel(t *testing.T) {
	for _, level := range assignable {
		parsed, err := ParseLevel(level.String())
		if err != nil || parsed != level {
			t.Errorf("ParseLevel(%q) = %s, %v", level.String(), parsed, err)
		}
		if !level.Assignable() {
			t.Errorf("%s should be assignable", level)
		}
	}

	if All.Assignable() || None.Assignable() {
		t.Error("ALL and NONE must not be assignable to trustees")
	}

	if _, err := ParseLevel("ROOT"); !failures.IsValidationError(err) {
		t.Errorf("Expected ValidationError for unknown level, got %v", err)
	}
}
