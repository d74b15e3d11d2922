package stock

import "time"

// Low-stock warning levels. The lower level takes precedence when a single
// deduction crosses both.
const (
	ThresholdLow     = 10
	ThresholdWarning = 30

	// DefaultTimeZone is the operating calendar used to scope notifications.
	DefaultTimeZone = "Asia/Seoul"
)

// Record is the stock state of one menu group.
type Record struct {
	GroupID  string `json:"groupId"`
	Stock    int    `json:"stock"`
	Capacity int    `json:"capacity"`

	// LastNotifiedThreshold is the deepest threshold already announced on
	// LastNotifiedDate. Both are nil until the first crossing of a day.
	LastNotifiedThreshold *int       `json:"lastNotifiedThreshold,omitempty"`
	LastNotifiedDate      *time.Time `json:"lastNotifiedDate,omitempty"`
}

// NewRecord returns a full record for a freshly created group.
func NewRecord(groupID string, capacity int) Record {
	return Record{GroupID: groupID, Stock: capacity, Capacity: capacity}
}

// Crossing is produced by Deduct when stock falls to or below a threshold
// that has not been announced yet on the operating day.
type Crossing struct {
	Threshold int
	Remaining int
}

// Group is the directory view of a menu group needed to address a notification.
type Group struct {
	ID      string
	StoreID string
	Name    string
}

// Result is what callers of the Service get back.
type Result struct {
	GroupID string `json:"groupId"`
	Stock   int    `json:"stock"`
}

// LowStock is handed to a Dispatcher after the deduction that produced it
// has been committed.
type LowStock struct {
	GroupID      string
	StoreID      string
	GroupName    string
	Remaining    int
	Threshold    int
	OperatingDay time.Time
}

// DateOf returns the calendar date of t in loc, as midnight UTC of that date.
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDay(a *time.Time, day time.Time) bool {
	if a == nil {
		return false
	}
	y1, m1, d1 := a.Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }
