package callback

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

const (
	// MenuDays is today plus the next three calendar days.
	MenuDays     = 4
	WindowLength = 3 * time.Hour
)

// windowStarts are the local start hours of the fixed callback windows.
var windowStarts = []int{9, 12, 15, 18}

// Slot is one selectable callback window.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Label     string    `json:"label"`
	Available bool      `json:"available"`
}

type Day struct {
	Date  time.Time `json:"date"`
	Label string    `json:"label"`
	Slots []Slot    `json:"slots"`
}

// Menu lists the callback windows for the next MenuDays days in now's location.
// Windows that have already ended are present but unavailable.
func Menu(now time.Time) []Day {
	loc := now.Location()
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)

	return lo.Times(MenuDays, func(i int) Day {
		date := today.AddDate(0, 0, i)
		label := dayLabel(i, date)
		return Day{
			Date:  date,
			Label: label,
			Slots: lo.Map(windowStarts, func(h int, _ int) Slot {
				start := time.Date(date.Year(), date.Month(), date.Day(), h, 0, 0, 0, loc)
				end := start.Add(WindowLength)
				return Slot{
					Start:     start,
					End:       end,
					Label:     fmt.Sprintf("%s, %s-%s", label, start.Format("3:04 PM"), end.Format("3:04 PM")),
					Available: now.Before(end),
				}
			}),
		}
	})
}

// AvailableSlots flattens the menu to the windows that can still be picked.
func AvailableSlots(now time.Time) []Slot {
	all := lo.FlatMap(Menu(now), func(d Day, _ int) []Slot { return d.Slots })
	return lo.Filter(all, func(s Slot, _ int) bool { return s.Available })
}

func dayLabel(offset int, date time.Time) string {
	switch offset {
	case 0:
		return "Today"
	case 1:
		return "Tomorrow"
	default:
		return date.Format("Mon 2 Jan")
	}
}

// IsWindowStart reports whether t starts one of the fixed windows in its own location.
func IsWindowStart(t time.Time) bool {
	return t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 && lo.Contains(windowStarts, t.Hour())
}
