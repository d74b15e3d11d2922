package stock

import (
	"fmt"
	"time"
)

// Deduct removes amount servings from rec and reports the threshold crossing,
// if any, that the deduction produced on the operating day today.
//
// The input record is never modified. On error the returned record equals rec.
func Deduct(rec Record, amount int, today time.Time) (Record, *Crossing, error) {
	if amount <= 0 {
		return rec, nil, fmt.Errorf("%w: deduction amount must be positive, got %d", ErrInvalidValue, amount)
	}
	if rec.Stock < amount {
		return rec, nil, ErrInsufficientStock
	}

	prev := rec.Stock
	next := rec
	next.Stock = prev - amount

	// Yesterday's announcement must not suppress today's.
	var notified *int
	if sameDay(rec.LastNotifiedDate, today) {
		notified = rec.LastNotifiedThreshold
	}

	var threshold int
	switch {
	case prev > ThresholdLow && next.Stock <= ThresholdLow && (notified == nil || *notified > ThresholdLow):
		threshold = ThresholdLow
	case next.Stock <= ThresholdWarning && (notified == nil || *notified > ThresholdWarning):
		threshold = ThresholdWarning
	default:
		return next, nil, nil
	}

	next.LastNotifiedThreshold = intPtr(threshold)
	next.LastNotifiedDate = timePtr(today)
	return next, &Crossing{Threshold: threshold, Remaining: next.Stock}, nil
}

// SetStock overwrites the stock of rec as an administrative correction.
// Notification state recovers monotonically with the new value; it never emits.
func SetStock(rec Record, value int) (Record, error) {
	if value < 0 {
		return rec, fmt.Errorf("%w: stock must not be negative, got %d", ErrInvalidValue, value)
	}

	next := rec
	next.Stock = value

	switch {
	case value > ThresholdWarning:
		next.LastNotifiedThreshold = nil
	case value > ThresholdLow && rec.LastNotifiedThreshold != nil && *rec.LastNotifiedThreshold == ThresholdLow:
		next.LastNotifiedThreshold = intPtr(ThresholdWarning)
	}
	return next, nil
}

// ResetDaily restores full capacity and forgets every announcement.
func ResetDaily(rec Record) Record {
	rec.Stock = rec.Capacity
	rec.LastNotifiedThreshold = nil
	rec.LastNotifiedDate = nil
	return rec
}
