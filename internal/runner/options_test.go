package runner

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestOptionsNormalize(t *testing.T) {
	mock := clock.NewMock()
	tests := []struct {
		name     string
		input    Options
		validate func(*testing.T, Options)
	}{
		{
			name:  "defaults",
			input: Options{},
			validate: func(t *testing.T, o Options) {
				if o.MaxWait != DefaultMaxWait {
					t.Errorf("MaxWait = %v, want %v", o.MaxWait, DefaultMaxWait)
				}
				if o.SweepInterval != DefaultSweepInterval {
					t.Errorf("SweepInterval = %v, want %v", o.SweepInterval, DefaultSweepInterval)
				}
				if o.Clock == nil {
					t.Error("Clock should not be nil")
				}
				if o.Logger == nil {
					t.Error("Logger should not be nil")
				}
			},
		},
		{
			name: "negative values corrected",
			input: Options{
				MaxWait:       -time.Second,
				SweepInterval: -time.Second,
				Duration:      -time.Minute,
			},
			validate: func(t *testing.T, o Options) {
				if o.MaxWait != DefaultMaxWait {
					t.Errorf("MaxWait = %v, want %v", o.MaxWait, DefaultMaxWait)
				}
				if o.SweepInterval != DefaultSweepInterval {
					t.Errorf("SweepInterval = %v, want %v", o.SweepInterval, DefaultSweepInterval)
				}
				if o.Duration != 0 {
					t.Errorf("Duration = %v, want 0", o.Duration)
				}
			},
		},
		{
			name: "preserve valid values",
			input: Options{
				MaxWait:       5 * time.Second,
				SweepInterval: 250 * time.Millisecond,
				Duration:      time.Minute,
				Clock:         mock,
			},
			validate: func(t *testing.T, o Options) {
				if o.MaxWait != 5*time.Second {
					t.Errorf("MaxWait = %v, want 5s", o.MaxWait)
				}
				if o.SweepInterval != 250*time.Millisecond {
					t.Errorf("SweepInterval = %v, want 250ms", o.SweepInterval)
				}
				if o.Duration != time.Minute {
					t.Errorf("Duration = %v, want 1m", o.Duration)
				}
				if o.Clock != mock {
					t.Error("Clock should be preserved")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := tt.input
			opt.normalize()
			tt.validate(t, opt)
		})
	}
}
