package testutil

import "testing"

// Given, When and Then name nested subtests after the scenario step they
// cover, so a failing lifecycle walkthrough reads as the step that broke.
func Given(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("When "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("Then "+desc, fn)
}
