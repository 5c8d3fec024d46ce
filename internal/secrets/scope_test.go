package secrets

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeEnviron(t *testing.T) {
	s := &Scope{}
	s.Set("RESTIC_PASSWORD", "secret")
	s.Set("AWS_ACCESS_KEY_ID", "AKIA123")

	env := s.Environ()
	assert.ElementsMatch(t, []string{"RESTIC_PASSWORD=secret", "AWS_ACCESS_KEY_ID=AKIA123"}, env)
	assert.Equal(t, 2, s.Len())
}

func TestScopeSkipsEmptyValues(t *testing.T) {
	s := &Scope{}
	s.Set("RESTIC_PASSWORD", "secret")
	s.Set("AWS_ACCESS_KEY_ID", "")

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []string{"RESTIC_PASSWORD=secret"}, s.Environ())
}

func TestScopeWipe(t *testing.T) {
	s := &Scope{}
	s.Set("RESTIC_PASSWORD", "secret")

	entry := s.entries[0]
	s.Wipe()

	for _, b := range entry {
		assert.Zero(t, b)
	}
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Environ())

	// Wiping twice must not panic.
	s.Wipe()
}

func TestWithProvidesEnv(t *testing.T) {
	var captured []string
	err := With(map[string]string{"RESTIC_PASSWORD": "secret"}, func(env []string) error {
		captured = append([]string(nil), env...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"RESTIC_PASSWORD=secret"}, captured)
}

func TestWithNeverTouchesProcessEnv(t *testing.T) {
	err := With(map[string]string{"RESTIC_PASSWORD": "secret"}, func(_ []string) error {
		assert.Empty(t, os.Getenv("RESTIC_PASSWORD"))
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, os.Getenv("RESTIC_PASSWORD"))
}

func TestWithWipesOnError(t *testing.T) {
	var captured []string
	err := With(map[string]string{"RESTIC_PASSWORD": "secret"}, func(env []string) error {
		captured = env
		return errors.New("step failed")
	})
	require.Error(t, err)
	require.Len(t, captured, 1)
}

func TestWithWipesOnPanic(t *testing.T) {
	assert.Panics(t, func() {
		_ = With(map[string]string{"RESTIC_PASSWORD": "secret"}, func(_ []string) error {
			panic("boom")
		})
	})
}

func TestWithReturnsBodyError(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := With(nil, func(_ []string) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}
