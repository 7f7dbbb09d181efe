package bus_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/busprobe/internal/bus"
	"github.com/torosent/busprobe/internal/probe"
)

func drain(t *testing.T, src bus.Source) []probe.Message {
	t.Helper()
	var out []probe.Message
	for {
		m, err := src.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, m)
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReplayJSONLines(t *testing.T) {
	mock := clock.NewMock()
	src, err := bus.NewReplaySource(bus.ReplayOptions{Path: "testdata/traffic.jsonl", Clock: mock})
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 7, src.Len())
	assert.True(t, src.RecordedTimeline())
	msgs := drain(t, src)
	require.Len(t, msgs, 7)

	assert.Equal(t, probe.Message{Subject: "svc.echo", ReplyTo: "_INBOX.1", PayloadSize: 4, ReceivedAt: mock.Now()}, msgs[0])
	assert.Equal(t, mock.Now().Add(2*time.Second), msgs[1].ReceivedAt)
	assert.EqualValues(t, 128, msgs[2].PayloadSize)
	assert.True(t, msgs[4].HasError)
	assert.Empty(t, msgs[5].ReplyTo)
	assert.Equal(t, mock.Now().Add(65*time.Second), msgs[6].ReceivedAt)
}

func TestReplayCSV(t *testing.T) {
	mock := clock.NewMock()
	src, err := bus.NewReplaySource(bus.ReplayOptions{Path: "testdata/traffic.csv", Clock: mock})
	require.NoError(t, err)

	msgs := drain(t, src)
	require.Len(t, msgs, 4)
	assert.Equal(t, "svc.echo", msgs[0].Subject)
	assert.Equal(t, "_INBOX.1", msgs[0].ReplyTo)
	assert.EqualValues(t, 4096, msgs[3].PayloadSize)
	assert.Equal(t, mock.Now().Add(2400*time.Millisecond), msgs[3].ReceivedAt)
}

func TestReplayFeedsEngine(t *testing.T) {
	mock := clock.NewMock()
	src, err := bus.NewReplaySource(bus.ReplayOptions{Path: "testdata/traffic.jsonl", Clock: mock})
	require.NoError(t, err)

	engine := probe.NewEngine(probe.Options{Clock: mock})
	for _, m := range drain(t, src) {
		engine.Observe(m, m.ReceivedAt)
	}
	engine.Sweep(mock.Now().Add(time.Minute), 5*time.Second)

	snap := engine.Snapshot(mock.Now().Add(time.Minute))
	assert.EqualValues(t, 7, snap.Total)
	assert.EqualValues(t, 2, snap.Serviced)
	assert.EqualValues(t, 1, snap.TimedOut)
	assert.EqualValues(t, 1, snap.Errors)
	assert.EqualValues(t, 4096, snap.MaxPayload)
}

func TestReplayErrorsNameTheLine(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{
			name:    "invalid json",
			file:    "bad.jsonl",
			content: "{\"subject\":\"a\"}\n{not json}\n",
			want:    "line 2",
		},
		{
			name:    "json array",
			file:    "arr.jsonl",
			content: "# header\n[1,2]\n",
			want:    "line 2: expected a JSON object",
		},
		{
			name:    "negative size",
			file:    "neg.jsonl",
			content: "{\"subject\":\"a\",\"size\":-1}\n",
			want:    "line 1: size must be non-negative",
		},
		{
			name:    "csv bad size",
			file:    "bad.csv",
			content: "subject,size\na,1\nb,many\n",
			want:    "line 3: invalid size",
		},
		{
			name:    "csv missing subject",
			file:    "nosubject.csv",
			content: "reply,size\n_R,1\n",
			want:    "subject column",
		},
		{
			name:    "csv short row",
			file:    "short.csv",
			content: "subject,reply,size\na,_R\n",
			want:    "line 2: has 2 fields",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, tt.file, tt.content)
			_, err := bus.NewReplaySource(bus.ReplayOptions{Path: path})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReplayUnsupportedFormat(t *testing.T) {
	_, err := bus.NewReplaySource(bus.ReplayOptions{Path: "testdata/traffic.jsonl", Format: "xml"})
	assert.ErrorContains(t, err, "unsupported replay format")
}

func TestReplayMissingFile(t *testing.T) {
	_, err := bus.NewReplaySource(bus.ReplayOptions{Path: filepath.Join(t.TempDir(), "missing.jsonl")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReplayDelayWaitsOnClock(t *testing.T) {
	mock := clock.NewMock()
	path := writeTemp(t, "delay.jsonl", "{\"subject\":\"a\",\"delay_ms\":500}\n")
	src, err := bus.NewReplaySource(bus.ReplayOptions{Path: path, Clock: mock})
	require.NoError(t, err)
	assert.False(t, src.RecordedTimeline(), "delay_ms follows the replay clock")

	got := make(chan probe.Message, 1)
	go func() {
		m, err := src.Next(context.Background())
		if err == nil {
			got <- m
		}
	}()

	start := mock.Now()
	var msg probe.Message
	require.Eventually(t, func() bool {
		select {
		case msg = <-got:
			return true
		default:
			mock.Add(100 * time.Millisecond)
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, msg.ReceivedAt.Before(start.Add(500*time.Millisecond)))
}

func TestReplayDelayHonorsCancel(t *testing.T) {
	mock := clock.NewMock()
	path := writeTemp(t, "delay.jsonl", "{\"subject\":\"a\",\"delay_ms\":500}\n")
	src, err := bus.NewReplaySource(bus.ReplayOptions{Path: path, Clock: mock})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayRatePacing(t *testing.T) {
	path := writeTemp(t, "paced.jsonl", "{\"subject\":\"a\"}\n{\"subject\":\"b\"}\n{\"subject\":\"c\"}\n")
	src, err := bus.NewReplaySource(bus.ReplayOptions{Path: path, Rate: 20})
	require.NoError(t, err)

	start := time.Now()
	assert.Len(t, drain(t, src), 3)
	// Burst of one: the second and third messages wait 50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestReplayClose(t *testing.T) {
	src, err := bus.NewReplaySource(bus.ReplayOptions{Path: "testdata/traffic.csv"})
	require.NoError(t, err)
	require.NoError(t, src.Close())

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, bus.ErrConnectionClosed)
}
