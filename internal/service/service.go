// Package service реализует бизнес-логику выдачи книг: учёт остатков, журнал выдач,
// очередь бронирований и фоновую сверку просрочек.
package service

import (
	"context"
	"time"

	"github.com/mmeshcher/library-circulation/internal/model"
	"github.com/mmeshcher/library-circulation/internal/notify"
)

// InventoryStore описывает хранилище остатков книг.
type InventoryStore interface {
	CreateBook(ctx context.Context, b *model.Book) (int64, error)
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	DecrementAvailable(ctx context.Context, bookID int64) error
	IncrementAvailable(ctx context.Context, bookID int64) error
	SetCopies(ctx context.Context, bookID int64, total, available int) error
}

// LoanStore описывает хранилище выдач.
type LoanStore interface {
	InsertLoan(ctx context.Context, l *model.Loan, maxActive int) (int64, error)
	GetLoan(ctx context.Context, id int64) (*model.Loan, error)
	CloseLoan(ctx context.Context, id int64, returnedAt time.Time, fine int64) error
	UpdateDueDate(ctx context.Context, id int64, oldDue, newDue time.Time) error
	ListLoansByStatus(ctx context.Context, statuses ...model.LoanStatus) ([]model.Loan, error)
	ListLoansByMember(ctx context.Context, memberID int64) ([]model.Loan, error)
	MarkLoansOverdue(ctx context.Context, ids []int64) ([]int64, error)
}

// ReservationStore описывает хранилище бронирований.
type ReservationStore interface {
	InsertReservation(ctx context.Context, res *model.Reservation) (*model.Reservation, error)
	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)
	SetReservationStatus(ctx context.Context, id int64, from, to model.ReservationStatus) (bool, error)
	ListActiveReservations(ctx context.Context, bookID int64) ([]model.Reservation, error)
	ExpireReservations(ctx context.Context, now time.Time) ([]int64, error)
	FulfilReservation(ctx context.Context, bookID, memberID int64) (bool, error)
}

// MemberStore описывает справочник читателей, которым владеет внешний сервис.
type MemberStore interface {
	CreateMember(ctx context.Context, m *model.Member) (int64, error)
	GetMember(ctx context.Context, id int64) (*model.Member, error)
	GetMemberByAccount(ctx context.Context, accountID int64) (*model.Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*model.Member, error)
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	InventoryStore
	LoanStore
	ReservationStore
	MemberStore
	Close() error
}

// Notifier отправляет уведомления читателям.
type Notifier interface {
	Notify(ctx context.Context, e notify.Event) error
}

// Clock возвращает текущее время.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
