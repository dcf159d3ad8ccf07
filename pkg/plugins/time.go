package plugins

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/promptengine/pkg/execctx"
)

// timePlugins implements the §4.3 Time plugin family. Every call reads
// ec.Clock rather than time.Now directly, so test mode can freeze the
// clock and keep Stage-1 output deterministic across repeated runs (§8).
func timePlugins() map[string]execctx.Func {
	return map[string]execctx.Func{
		"get_current_time":  getCurrentTime,
		"get_relative_time": getRelativeTime,
		"get_day_of_week":   getDayOfWeek,
		"is_business_hours": isBusinessHours,
	}
}

func clockOf(ec *execctx.Context) time.Time {
	if ec.Clock != nil {
		return ec.Clock()
	}
	return time.Now()
}

// getCurrentTime formats the current time using a strftime-style layout
// (%H:%M, %Y-%m-%d, ...), the format family the source script dialect
// uses; a small fixed translation table covers the directives §8's
// scenarios exercise.
func getCurrentTime(_ context.Context, ec *execctx.Context, args map[string]any) (any, error) {
	layout, _ := args["fmt"].(string)
	if layout == "" {
		layout = "%Y-%m-%d %H:%M:%S"
	}
	return strftime(clockOf(ec), layout), nil
}

func getRelativeTime(_ context.Context, ec *execctx.Context, args map[string]any) (any, error) {
	ref, ok := args["since"].(time.Time)
	if !ok {
		return "just now", nil
	}
	d := clockOf(ec).Sub(ref)
	switch {
	case d < time.Minute:
		return "just now", nil
	case d < time.Hour:
		return pluralize(int(d/time.Minute), "minute") + " ago", nil
	case d < 24*time.Hour:
		return pluralize(int(d/time.Hour), "hour") + " ago", nil
	default:
		return pluralize(int(d/(24*time.Hour)), "day") + " ago", nil
	}
}

func getDayOfWeek(_ context.Context, ec *execctx.Context, _ map[string]any) (any, error) {
	return clockOf(ec).Weekday().String(), nil
}

func isBusinessHours(_ context.Context, ec *execctx.Context, _ map[string]any) (any, error) {
	now := clockOf(ec)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false, nil
	}
	h := now.Hour()
	return h >= 9 && h < 17, nil
}

func pluralize(n int, unit string) string {
	s := unit
	if n != 1 {
		s += "s"
	}
	return strconv.Itoa(n) + " " + s
}

var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'A': "Monday",
	'a': "Mon",
	'B': "January",
	'b': "Jan",
	'p': "PM",
}

func strftime(t time.Time, layout string) string {
	var b strings.Builder
	for i := 0; i < len(layout); i++ {
		if layout[i] == '%' && i+1 < len(layout) {
			if goLayout, ok := strftimeDirectives[layout[i+1]]; ok {
				b.WriteString(t.Format(goLayout))
				i++
				continue
			}
		}
		b.WriteByte(layout[i])
	}
	return b.String()
}
