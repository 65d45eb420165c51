package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/library-circulation/internal/model"
)

// Ledger ведёт журнал выдач: правила выдачи, продления, возвраты и штрафы.
type Ledger struct {
	repo   LoanStore
	policy Policy
	now    Clock
}

// NewLedger создаёт журнал выдач.
func NewLedger(repo LoanStore, policy Policy, now Clock) *Ledger {
	if now == nil {
		now = systemClock
	}
	return &Ledger{repo: repo, policy: policy, now: now}
}

// ValidateDueDate проверяет, что срок возврата строго в будущем.
func (l *Ledger) ValidateDueDate(due time.Time) error {
	if due.IsZero() || !due.After(l.now()) {
		return fmt.Errorf("%w: due date must be in the future", model.ErrInvalidInput)
	}
	return nil
}

// CreateLoan оформляет выдачу. Лимит активных выдач и повторная выдача той же книги
// проверяются хранилищем в одной транзакции со вставкой.
func (l *Ledger) CreateLoan(ctx context.Context, bookID, memberID int64, due time.Time, snapshot model.LoanSnapshot, note string) (*model.Loan, error) {
	if err := l.ValidateDueDate(due); err != nil {
		return nil, err
	}

	loan := &model.Loan{
		BookID:     bookID,
		MemberID:   memberID,
		Snapshot:   snapshot,
		BorrowDate: l.now(),
		DueDate:    due,
		Status:     model.LoanStatusBorrowed,
		Note:       note,
	}

	id, err := l.repo.InsertLoan(ctx, loan, l.policy.MaxActiveLoans)
	if err != nil {
		return nil, err
	}
	loan.ID = id

	return loan, nil
}

// Get возвращает выдачу с учётом ещё не записанной просрочки.
func (l *Ledger) Get(ctx context.Context, loanID int64) (*model.Loan, error) {
	loan, err := l.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	loan.Status = effectiveStatus(loan, l.now())
	return loan, nil
}

// ReturnLoan закрывает выдачу и фиксирует штраф. Повторный возврат невозможен.
func (l *Ledger) ReturnLoan(ctx context.Context, loanID int64) (*model.Loan, error) {
	loan, err := l.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.Status.Active() {
		return nil, fmt.Errorf("%w: loan %d", model.ErrAlreadyReturned, loanID)
	}

	now := l.now()
	fine, _ := l.policy.fineAt(loan.DueDate, now)

	if err := l.repo.CloseLoan(ctx, loanID, now, fine); err != nil {
		return nil, err
	}

	loan.Status = model.LoanStatusReturned
	loan.ReturnDate = &now
	loan.Fine = fine

	return loan, nil
}

// ExtendDueDate продлевает выдачу. Новый срок должен быть позже текущего не более чем на MaxExtension.
func (l *Ledger) ExtendDueDate(ctx context.Context, loanID int64, newDue time.Time) (*model.Loan, error) {
	loan, err := l.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	if status := effectiveStatus(loan, l.now()); status != model.LoanStatusBorrowed {
		return nil, fmt.Errorf("%w: loan %d is %s", model.ErrNotBorrowed, loanID, status)
	}

	if !newDue.After(loan.DueDate) {
		return nil, fmt.Errorf("%w: new due date must be after %s", model.ErrInvalidExtension, loan.DueDate.Format(time.RFC3339))
	}
	if newDue.Sub(loan.DueDate) > l.policy.MaxExtension {
		return nil, fmt.Errorf("%w: at most %s past %s", model.ErrInvalidExtension, l.policy.MaxExtension, loan.DueDate.Format(time.RFC3339))
	}

	if err := l.repo.UpdateDueDate(ctx, loanID, loan.DueDate, newDue); err != nil {
		return nil, err
	}

	loan.DueDate = newDue
	return loan, nil
}

// CalculateFine рассчитывает штраф на текущий момент, ничего не записывая.
// Для возвращённой выдачи возвращается зафиксированный штраф.
func (l *Ledger) CalculateFine(ctx context.Context, loanID int64) (*model.Fine, error) {
	loan, err := l.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	if loan.Status == model.LoanStatusReturned {
		return &model.Fine{LoanID: loan.ID, Amount: loan.Fine, Returned: true}, nil
	}

	amount, days := l.policy.fineAt(loan.DueDate, l.now())
	return &model.Fine{LoanID: loan.ID, Amount: amount, DaysLate: days}, nil
}

// MarkOverdue переводит просроченные выдачи из Borrowed в Overdue и возвращает переведённые.
// Повторный вызов ничего не меняет.
func (l *Ledger) MarkOverdue(ctx context.Context) ([]int64, error) {
	borrowed, err := l.repo.ListLoansByStatus(ctx, model.LoanStatusBorrowed)
	if err != nil {
		return nil, err
	}

	now := l.now()
	var ids []int64
	for i := range borrowed {
		if pastDue(borrowed[i].DueDate, now) {
			ids = append(ids, borrowed[i].ID)
		}
	}

	return l.repo.MarkLoansOverdue(ctx, ids)
}

// ListOverdue возвращает невозвращённые выдачи с истёкшим сроком.
func (l *Ledger) ListOverdue(ctx context.Context) ([]model.Loan, error) {
	loans, err := l.repo.ListLoansByStatus(ctx, model.LoanStatusBorrowed, model.LoanStatusOverdue)
	if err != nil {
		return nil, err
	}

	now := l.now()
	res := make([]model.Loan, 0, len(loans))
	for i := range loans {
		if !pastDue(loans[i].DueDate, now) {
			continue
		}
		loans[i].Status = model.LoanStatusOverdue
		res = append(res, loans[i])
	}
	return res, nil
}

// MemberLoans возвращает историю выдач читателя.
func (l *Ledger) MemberLoans(ctx context.Context, memberID int64) ([]model.Loan, error) {
	loans, err := l.repo.ListLoansByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	for i := range loans {
		loans[i].Status = effectiveStatus(&loans[i], now)
	}
	return loans, nil
}
