package output

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"semcal/internal/config"
	"semcal/internal/model"
)

const (
	FormatJSON = "json"
	FormatICS  = "ics"

	TimeEpoch = "epoch"
	TimeISO   = "iso"
)

// Options selects the serialization of one invocation's result.
type Options struct {
	// Format is FormatJSON or FormatICS.
	Format string
	// TimeFormat is TimeEpoch or TimeISO; JSON only.
	TimeFormat string
	// Location is the zone ISO times are written in. If nil, time.Local is used.
	Location *time.Location
	// Now stamps ICS events. If nil, time.Now is used.
	Now func() time.Time
}

// Class is one serialized calendar event.
type Class struct {
	Name        string `json:"name"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Begin       any    `json:"begin"`
	End         any    `json:"end"`
}

// Result is the success envelope.
type Result struct {
	SessionName string  `json:"session_name"`
	Classes     []Class `json:"classes"`
}

// ErrorResult is the failure envelope. It never carries classes.
type ErrorResult struct {
	Error string `json:"error"`
}

// NewResult wraps events for the named study period.
func NewResult(periodName string, events []model.CalendarEvent, opts Options) Result {
	classes := make([]Class, 0, len(events))
	for _, e := range events {
		classes = append(classes, Class{
			Name:        e.UnitCode,
			Location:    e.Location,
			Description: e.Description,
			Begin:       stamp(e.Start, opts),
			End:         stamp(e.End, opts),
		})
	}
	return Result{SessionName: periodName, Classes: classes}
}

// NewError builds the error envelope for err.
func NewError(err error) ErrorResult {
	return ErrorResult{Error: err.Error()}
}

func stamp(t time.Time, opts Options) any {
	if opts.TimeFormat == TimeISO {
		loc := opts.Location
		if loc == nil {
			loc = time.Local
		}
		return t.In(loc).Format(time.RFC3339)
	}
	return t.Unix()
}

// Render serializes events in the configured format.
func Render(periodName string, events []model.CalendarEvent, opts Options) ([]byte, error) {
	switch opts.Format {
	case FormatICS:
		return renderICS(periodName, events, opts)
	case FormatJSON, "":
		return json.Marshal(NewResult(periodName, events, opts))
	default:
		return nil, fmt.Errorf("output: unknown format %q", opts.Format)
	}
}

// RenderError serializes the error envelope. It is JSON in every format,
// so callers can always tell failure from a calendar.
func RenderError(err error) ([]byte, error) {
	return json.Marshal(NewError(err))
}

// Write sends data to path, or to stdout when path is empty. Files are
// replaced atomically so a reader never sees a half-written calendar.
func Write(path string, data []byte, stdout io.Writer) error {
	if path == "" {
		if _, err := stdout.Write(data); err != nil {
			return err
		}
		_, err := io.WriteString(stdout, "\n")
		return err
	}
	if err := config.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}

// FromConfig builds Options from the output section.
func FromConfig(c config.OutputConfig, loc *time.Location) Options {
	return Options{Format: c.Format, TimeFormat: c.TimeFormat, Location: loc}
}
