package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"bellstat/domain/event"
	apperrors "bellstat/internal/errors"

	"github.com/tidwall/gjson"
)

const maxLineBytes = 1 << 20

// Options controls how raw event lines are decoded.
type Options struct {
	// OutcomeMask keeps only these detector bits of each outcome pattern;
	// 0 keeps every bit. Events carrying other bits are counted in
	// Summary.OutOfMask.
	OutcomeMask uint16
}

// Summary describes what a reader saw in one stream.
type Summary struct {
	Events    int    `json:"events"`
	Blank     int    `json:"blank"`
	Clicks    int    `json:"clicks"`
	OutOfMask int    `json:"out_of_mask"`
	Settings  [3]int `json:"settings"` // events with setting 0, 1, 2
}

// ReadEvents decodes a JSON Lines event stream, one
// {"t": <int>, "setting": <0|1|2>, "outcome": <int>} object per line. Blank
// lines are skipped; "setting" and "outcome" default to 0. Order is not
// checked here: the matcher rejects unsorted streams.
func ReadEvents(r io.Reader, opts Options) (event.Stream, Summary, error) {
	var (
		stream event.Stream
		sum    Summary
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			sum.Blank++
			continue
		}
		ev, outOfMask, err := decodeEvent(raw, opts)
		if err != nil {
			return nil, sum, apperrors.InvalidInputf(err, "line %d", line)
		}
		stream = append(stream, ev)
		sum.Events++
		sum.Settings[ev.Setting]++
		if ev.Clicked() {
			sum.Clicks++
		}
		if outOfMask {
			sum.OutOfMask++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, sum, apperrors.InvalidInputf(err, "read events after line %d", line)
	}
	return stream, sum, nil
}

// LoadEvents reads an event file from disk.
func LoadEvents(path string, opts Options) (event.Stream, Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Summary{}, apperrors.InvalidInputf(err, "open events")
	}
	defer f.Close()
	stream, sum, err := ReadEvents(f, opts)
	if err != nil {
		return nil, sum, apperrors.Wrapf(err, "events %s", path)
	}
	return stream, sum, nil
}

func decodeEvent(raw []byte, opts Options) (event.Event, bool, error) {
	if !gjson.ValidBytes(raw) {
		return event.Event{}, false, fmt.Errorf("not valid JSON")
	}
	fields := gjson.GetManyBytes(raw, "t", "setting", "outcome")
	t, setting, outcome := fields[0], fields[1], fields[2]

	if !isInteger(t) {
		return event.Event{}, false, fmt.Errorf(`"t" must be an integer tick count, got %q`, t.Raw)
	}
	ev := event.Event{Timestamp: t.Int()}

	if setting.Exists() {
		s := setting.Int()
		if !isInteger(setting) || s < 0 || s > 2 {
			return event.Event{}, false, fmt.Errorf(`"setting" must be 0, 1 or 2, got %s`, setting.Raw)
		}
		ev.Setting = uint8(s)
	}
	if outcome.Exists() {
		o := outcome.Int()
		if !isInteger(outcome) || o < 0 || o > 0xffff {
			return event.Event{}, false, fmt.Errorf(`"outcome" must be a 16-bit pattern, got %s`, outcome.Raw)
		}
		ev.Outcome = uint16(o)
	}

	var outOfMask bool
	if opts.OutcomeMask != 0 {
		outOfMask = ev.Outcome&^opts.OutcomeMask != 0
		ev.Outcome &= opts.OutcomeMask
	}
	return ev, outOfMask, nil
}

// isInteger reports whether r is a JSON number written without fraction or
// exponent, so tick counts beyond 2^53 survive intact.
func isInteger(r gjson.Result) bool {
	return r.Type == gjson.Number && !strings.ContainsAny(r.Raw, ".eE")
}
