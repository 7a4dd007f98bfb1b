package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func weekdays() [7]bool {
	return [7]bool{false, true, true, true, true, true, false}
}

func TestActiveServices(t *testing.T) {
	// Wednesday.
	date := time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC)
	rules := []CalendarRule{
		{ServiceID: "WEEKDAY", Days: weekdays(), StartDate: "20250101", EndDate: "20251231"},
		{ServiceID: "WEEKEND", Days: [7]bool{true, false, false, false, false, false, true}, StartDate: "20250101", EndDate: "20251231"},
		{ServiceID: "EXPIRED", Days: weekdays(), StartDate: "20240101", EndDate: "20241231"},
		{ServiceID: "LASTDAY", Days: weekdays(), StartDate: "20250101", EndDate: "20250618"},
	}

	tests := []struct {
		name       string
		exceptions []CalendarException
		want       []string
	}{
		{
			name: "weekly rules only",
			want: []string{"LASTDAY", "WEEKDAY"},
		},
		{
			name: "removed exception",
			exceptions: []CalendarException{
				{ServiceID: "WEEKDAY", Date: "20250618", ExceptionType: ServiceRemoved},
			},
			want: []string{"LASTDAY"},
		},
		{
			name: "added exception",
			exceptions: []CalendarException{
				{ServiceID: "HOLIDAY", Date: "20250618", ExceptionType: ServiceAdded},
			},
			want: []string{"HOLIDAY", "LASTDAY", "WEEKDAY"},
		},
		{
			name: "added wins over removed",
			exceptions: []CalendarException{
				{ServiceID: "WEEKDAY", Date: "20250618", ExceptionType: ServiceAdded},
				{ServiceID: "WEEKDAY", Date: "20250618", ExceptionType: ServiceRemoved},
			},
			want: []string{"LASTDAY", "WEEKDAY"},
		},
		{
			name: "other dates ignored",
			exceptions: []CalendarException{
				{ServiceID: "WEEKDAY", Date: "20250619", ExceptionType: ServiceRemoved},
				{ServiceID: "WEEKEND", Date: "20250617", ExceptionType: ServiceAdded},
			},
			want: []string{"LASTDAY", "WEEKDAY"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ActiveServices(date, rules, tt.exceptions)
			assert.Equal(t, tt.want, got.IDs())
		})
	}
}

func TestActiveServices_Empty(t *testing.T) {
	got := ActiveServices(time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC), nil, nil)
	assert.Empty(t, got)
	assert.False(t, got.Has("anything"))
}
