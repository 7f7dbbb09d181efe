package bus

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/torosent/busprobe/internal/probe"
)

const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// ReplayOptions configure a ReplaySource.
type ReplayOptions struct {
	Path   string
	Format string  // jsonl or csv; inferred from the extension when empty
	Rate   float64 // messages per second (0 means unpaced)
	Clock  clock.Clock
}

type replayRecord struct {
	msg   probe.Message
	delay time.Duration
	at    time.Duration
	hasAt bool
}

// ReplaySource plays back recorded traffic from a file.
//
// Each record carries subject, reply, size (or payload, whose length is used),
// error, and optionally delay_ms (wait before emitting) or at_ms (arrival
// offset from the start of the replay, emitted without waiting).
type ReplaySource struct {
	records []replayRecord
	limiter *rate.Limiter
	clock   clock.Clock

	mu     sync.Mutex
	index  int
	start  time.Time
	closed bool
}

// NewReplaySource loads and validates the whole file up front.
func NewReplaySource(opt ReplayOptions) (*ReplaySource, error) {
	format := opt.Format
	if format == "" {
		format = inferFormat(opt.Path)
	}

	file, err := os.Open(opt.Path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer file.Close()

	var records []replayRecord
	switch strings.ToLower(format) {
	case FormatJSONL, "json", "ndjson":
		records, err = parseJSONLines(file)
	case FormatCSV:
		records, err = parseCSV(file)
	default:
		return nil, fmt.Errorf("unsupported replay format %q", format)
	}
	if err != nil {
		return nil, err
	}

	if opt.Clock == nil {
		opt.Clock = clock.New()
	}
	s := &ReplaySource{records: records, clock: opt.Clock}
	if opt.Rate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opt.Rate), 1)
	}
	return s, nil
}

func inferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	default:
		return FormatJSONL
	}
}

// Len returns the number of records in the file.
func (s *ReplaySource) Len() int {
	return len(s.records)
}

// RecordedTimeline reports whether any record carries at_ms, which places
// messages on the recorded timeline instead of the replay clock.
func (s *ReplaySource) RecordedTimeline() bool {
	for _, rec := range s.records {
		if rec.hasAt {
			return true
		}
	}
	return false
}

// Next returns the next recorded message, or io.EOF after the last one.
func (s *ReplaySource) Next(ctx context.Context) (probe.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return probe.Message{}, ErrConnectionClosed
	}
	if s.index >= len(s.records) {
		s.mu.Unlock()
		return probe.Message{}, io.EOF
	}
	rec := s.records[s.index]
	s.index++
	if s.start.IsZero() {
		s.start = s.clock.Now()
	}
	start := s.start
	s.mu.Unlock()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return probe.Message{}, err
		}
	}
	if rec.delay > 0 {
		timer := s.clock.Timer(rec.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return probe.Message{}, ctx.Err()
		}
	}

	msg := rec.msg
	if rec.hasAt {
		msg.ReceivedAt = start.Add(rec.at)
	} else {
		msg.ReceivedAt = s.clock.Now()
	}
	return msg, nil
}

func (s *ReplaySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func parseJSONLines(r io.Reader) ([]replayRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var records []replayRecord
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if !gjson.Valid(text) {
			return nil, fmt.Errorf("line %d: invalid JSON", line)
		}
		obj := gjson.Parse(text)
		if !obj.IsObject() {
			return nil, fmt.Errorf("line %d: expected a JSON object", line)
		}

		rec := replayRecord{
			msg: probe.Message{
				Subject:  obj.Get("subject").String(),
				ReplyTo:  obj.Get("reply").String(),
				HasError: obj.Get("error").Bool(),
			},
		}
		if size := obj.Get("size"); size.Exists() {
			rec.msg.PayloadSize = size.Int()
		} else {
			rec.msg.PayloadSize = int64(len(obj.Get("payload").String()))
		}
		if d := obj.Get("delay_ms"); d.Exists() {
			rec.delay = millis(d.Float())
		}
		if at := obj.Get("at_ms"); at.Exists() {
			rec.at, rec.hasAt = millis(at.Float()), true
		}
		if err := rec.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	return records, nil
}

func parseCSV(r io.Reader) ([]replayRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := columns["subject"]; !ok {
		return nil, fmt.Errorf("CSV header must include a subject column")
	}

	var records []replayRecord
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if len(row) != len(header) {
			return nil, fmt.Errorf("line %d: has %d fields, expected %d", line, len(row), len(header))
		}
		field := func(name string) string {
			if i, ok := columns[name]; ok {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		rec := replayRecord{
			msg: probe.Message{
				Subject: field("subject"),
				ReplyTo: field("reply"),
			},
		}
		if v := field("size"); v != "" {
			rec.msg.PayloadSize, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid size %q", line, v)
			}
		} else {
			rec.msg.PayloadSize = int64(len(field("payload")))
		}
		if v := field("error"); v != "" {
			rec.msg.HasError, err = strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid error flag %q", line, v)
			}
		}
		if v := field("delay_ms"); v != "" {
			ms, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid delay_ms %q", line, v)
			}
			rec.delay = millis(ms)
		}
		if v := field("at_ms"); v != "" {
			ms, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid at_ms %q", line, v)
			}
			rec.at, rec.hasAt = millis(ms), true
		}
		if err := rec.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r replayRecord) validate() error {
	if r.msg.PayloadSize < 0 {
		return fmt.Errorf("size must be non-negative")
	}
	if r.delay < 0 {
		return fmt.Errorf("delay_ms must be non-negative")
	}
	if r.at < 0 {
		return fmt.Errorf("at_ms must be non-negative")
	}
	return nil
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
