package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/library-circulation/internal/model"
)

func TestFineAt(t *testing.T) {
	p := DefaultPolicy()
	due := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		now      time.Time
		wantFine int64
		wantDays int
	}{
		{name: "before due", now: due.Add(-time.Hour), wantFine: 0, wantDays: 0},
		{name: "exactly at due", now: due, wantFine: 0, wantDays: 0},
		{name: "one nanosecond late", now: due.Add(time.Nanosecond), wantFine: 100, wantDays: 1},
		{name: "one full day late", now: due.Add(day), wantFine: 100, wantDays: 1},
		{name: "day and a minute", now: due.Add(day + time.Minute), wantFine: 200, wantDays: 2},
		{name: "three days late", now: due.Add(3 * day), wantFine: 300, wantDays: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fine, days := p.fineAt(due, tt.now)
			assert.Equal(t, tt.wantFine, fine)
			assert.Equal(t, tt.wantDays, days)
		})
	}
}

func TestEffectiveStatus(t *testing.T) {
	due := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

	borrowed := &model.Loan{Status: model.LoanStatusBorrowed, DueDate: due}
	assert.Equal(t, model.LoanStatusBorrowed, effectiveStatus(borrowed, due))
	assert.Equal(t, model.LoanStatusOverdue, effectiveStatus(borrowed, due.Add(time.Second)))

	returned := &model.Loan{Status: model.LoanStatusReturned, DueDate: due}
	assert.Equal(t, model.LoanStatusReturned, effectiveStatus(returned, due.Add(day)))
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MaxActiveLoans = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.FineRatePerDay = -1
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.MaxExtension = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.ReservationHold = 0
	assert.Error(t, p.Validate())
}
