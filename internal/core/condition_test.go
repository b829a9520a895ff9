package core

import "testing"

func TestEvalCondition(t *testing.T) {
	env := map[string]string{
		"BUILD_EDITION": "full",
		"EMPTY":         "",
		"ZERO":          "0",
		"OFF":           "false",
		"UPPER_OFF":     "FALSE",
		"ON":            "yes",
	}
	lookup := func(name string) string { return env[name] }

	cases := []struct {
		expr string
		want bool
	}{
		{"ON", true},
		{"EMPTY", false},
		{"ZERO", false},
		{"OFF", false},
		{"UPPER_OFF", false},
		{"MISSING", false},
		{"BUILD_EDITION == full", true},
		{"BUILD_EDITION == trial", false},
		{"BUILD_EDITION != trial", true},
		{"BUILD_EDITION != full", false},
		{`BUILD_EDITION == "full"`, true},
		{`BUILD_EDITION == 'full'`, true},
		{`EMPTY == ""`, true},
		{`MISSING == ""`, true},
		{`MISSING != ""`, false},
		{"BUILD_EDITION==full", true},
		{"  BUILD_EDITION   ==   full  ", true},
	}
	for _, tc := range cases {
		got, err := EvalCondition(tc.expr, lookup)
		if err != nil {
			t.Errorf("EvalCondition(%q) returned error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("EvalCondition(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalCondition_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"   ",
		"1 = 1",
		"not a name",
		"== full",
		"9LIVES == 9",
	} {
		if _, err := EvalCondition(expr, func(string) string { return "" }); err == nil {
			t.Errorf("EvalCondition(%q) should fail", expr)
		}
	}
}
