package service

import (
	"fmt"
	"time"

	"github.com/mmeshcher/library-circulation/internal/model"
)

const day = 24 * time.Hour

// Policy содержит правила выдачи.
type Policy struct {
	// MaxActiveLoans задаёт максимум выдач в статусах Borrowed и Overdue у одного читателя.
	MaxActiveLoans int
	// FineRatePerDay задаёт штраф за каждый начатый день просрочки в минимальных денежных единицах.
	FineRatePerDay int64
	// MaxExtension ограничивает, насколько можно сдвинуть текущий срок возврата за одно продление.
	MaxExtension time.Duration
	// ReservationHold задаёт срок жизни бронирования с момента создания.
	ReservationHold time.Duration
}

// DefaultPolicy возвращает правила библиотеки по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		MaxActiveLoans:  5,
		FineRatePerDay:  100,
		MaxExtension:    30 * day,
		ReservationHold: 7 * day,
	}
}

// Validate проверяет, что правила имеют смысл.
func (p Policy) Validate() error {
	if p.MaxActiveLoans < 1 {
		return fmt.Errorf("max active loans must be positive, got %d", p.MaxActiveLoans)
	}
	if p.FineRatePerDay < 0 {
		return fmt.Errorf("fine rate must not be negative, got %d", p.FineRatePerDay)
	}
	if p.MaxExtension <= 0 {
		return fmt.Errorf("max extension must be positive, got %s", p.MaxExtension)
	}
	if p.ReservationHold <= 0 {
		return fmt.Errorf("reservation hold must be positive, got %s", p.ReservationHold)
	}
	return nil
}

// pastDue сравнивает срок возврата с текущим временем.
// Им пользуются и сверка просрочек, и расчёт штрафа при чтении.
func pastDue(due, now time.Time) bool {
	return now.After(due)
}

// daysLate возвращает число начатых суток просрочки; возврат ровно в срок даёт 0.
func daysLate(due, now time.Time) int {
	if !pastDue(due, now) {
		return 0
	}
	late := now.Sub(due)
	days := late / day
	if late%day != 0 {
		days++
	}
	return int(days)
}

func (p Policy) fineAt(due, now time.Time) (int64, int) {
	days := daysLate(due, now)
	return int64(days) * p.FineRatePerDay, days
}

// effectiveStatus учитывает просрочку, которую сверка ещё не успела записать.
func effectiveStatus(l *model.Loan, now time.Time) model.LoanStatus {
	if l.Status == model.LoanStatusBorrowed && pastDue(l.DueDate, now) {
		return model.LoanStatusOverdue
	}
	return l.Status
}
