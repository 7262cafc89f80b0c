package output

import (
	"bytes"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"semcal/internal/model"
)

const productID = "-//semcal//Semester Timetable//EN"

// renderICS writes one VEVENT per class. UIDs are derived from the event
// itself so re-importing a refreshed export updates events in place.
func renderICS(periodName string, events []model.CalendarEvent, opts Options) ([]byte, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	stampAt := now().UTC()

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	if periodName != "" {
		cal.SetXWRCalName(periodName)
	}
	if opts.Location != nil {
		cal.SetXWRTimezone(opts.Location.String())
	}

	for _, e := range events {
		ev := cal.AddEvent(eventUID(e))
		ev.SetDtStampTime(stampAt)
		ev.SetStartAt(e.Start)
		ev.SetEndAt(e.End)
		ev.SetSummary(e.UnitCode + " " + e.Description)
		ev.SetDescription(e.Description)
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
	}

	var buf bytes.Buffer
	if err := cal.SerializeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func eventUID(e model.CalendarEvent) string {
	key := e.UnitCode + "|" + e.Description + "|" + e.Start.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String() + "@semcal"
}
