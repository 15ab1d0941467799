package scheduler

import (
	"fmt"
	"time"

	"github.com/fentz26/petfeeder/internal/ledger"
	"github.com/fentz26/petfeeder/internal/models"
)

// Slot is one due feeding time of one schedule.
type Slot struct {
	ScheduleID string
	DeviceID   string
	PetID      string
	Time       string
	Minute     int
	Grams      int
	Key        string
}

// IsDue reports whether a slot at slotMin is due at nowMin. The slot fires
// from its own minute until window minutes later, exclusive.
func IsDue(nowMin, slotMin, window int) bool {
	return nowMin >= slotMin && nowMin < slotMin+window
}

// DueSlots returns the slots of schedules that are due at now. Inactive
// schedules and schedules not running on now's weekday are skipped. A slot
// with an unparseable time is reported in the error list and skipped; the
// remaining slots are still returned. Slot times and keys are zero-padded
// HH:MM whatever spelling the schedule stored.
func DueSlots(schedules []models.Schedule, now time.Time, window int) ([]Slot, []error) {
	var (
		slots []Slot
		bad   []error
	)
	nowMin := models.MinuteOfDay(now)
	for i := range schedules {
		sch := &schedules[i]
		if !sch.Active || !sch.RunsOn(now.Weekday()) {
			continue
		}
		for _, ft := range sch.FeedingTimes {
			slotMin, err := models.ParseTimeOfDay(ft.Time)
			if err != nil {
				bad = append(bad, fmt.Errorf("schedule %s: %w", sch.ID, err))
				continue
			}
			if !IsDue(nowMin, slotMin, window) {
				continue
			}
			at := models.FormatTimeOfDay(slotMin)
			slots = append(slots, Slot{
				ScheduleID: sch.ID,
				DeviceID:   sch.DeviceID,
				PetID:      sch.PetID,
				Time:       at,
				Minute:     slotMin,
				Grams:      ft.PortionGrams,
				Key:        ledger.SlotKey(sch.ID, at),
			})
		}
	}
	return slots, bad
}
