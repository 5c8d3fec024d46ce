package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronSpec(t *testing.T) {
	tests := []struct {
		name     string
		at       string
		expected string
		wantErr  bool
	}{
		{name: "early morning", at: "02:30", expected: "30 2 * * *"},
		{name: "midnight", at: "00:00", expected: "0 0 * * *"},
		{name: "last minute", at: "23:59", expected: "59 23 * * *"},
		{name: "missing colon", at: "0230", wantErr: true},
		{name: "hour out of range", at: "24:00", wantErr: true},
		{name: "minute out of range", at: "12:60", wantErr: true},
		{name: "not a number", at: "ab:cd", wantErr: true},
		{name: "empty", at: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := cronSpec(tt.at)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, spec)
		})
	}
}

func TestRunDailyInvalidTime(t *testing.T) {
	service := New(zerolog.Nop())

	err := service.RunDaily(context.Background(), "25:99", func() {})
	assert.Error(t, err)
}

func TestRunDailyStopsOnCancel(t *testing.T) {
	service := New(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.RunDaily(ctx, "03:00", func() {})
	}()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
