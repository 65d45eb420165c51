// Package model содержит доменные сущности сервиса выдачи книг.
package model

import "time"

// Book описывает экземпляры книги, доступные для выдачи.
type Book struct {
	ID              int64
	Code            string
	ISBN            string
	Title           string
	Author          string
	TotalCopies     int
	AvailableCopies int
}

// Member описывает читателя библиотеки.
type Member struct {
	ID        int64
	AccountID *int64
	Code      string
	Name      string
	Email     string
}

// LoanStatus описывает состояние выдачи.
type LoanStatus string

const (
	LoanStatusBorrowed LoanStatus = "Borrowed"
	LoanStatusReturned LoanStatus = "Returned"
	LoanStatusOverdue  LoanStatus = "Overdue"
)

// Active сообщает, учитывается ли выдача в лимите читателя.
func (s LoanStatus) Active() bool {
	return s == LoanStatusBorrowed || s == LoanStatusOverdue
}

// LoanSnapshot хранит копию данных книги и читателя на момент выдачи.
type LoanSnapshot struct {
	BookTitle   string `json:"book_title"`
	BookAuthor  string `json:"book_author"`
	BookISBN    string `json:"book_isbn"`
	BookCode    string `json:"book_code"`
	MemberName  string `json:"member_name"`
	MemberCode  string `json:"member_code"`
	MemberEmail string `json:"member_email"`
}

// NewLoanSnapshot снимает отображаемые поля книги и читателя.
func NewLoanSnapshot(b *Book, m *Member) LoanSnapshot {
	return LoanSnapshot{
		BookTitle:   b.Title,
		BookAuthor:  b.Author,
		BookISBN:    b.ISBN,
		BookCode:    b.Code,
		MemberName:  m.Name,
		MemberCode:  m.Code,
		MemberEmail: m.Email,
	}
}

// Loan описывает выдачу одного экземпляра книги читателю.
type Loan struct {
	ID         int64
	BookID     int64
	MemberID   int64
	Snapshot   LoanSnapshot
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	Status     LoanStatus
	// Fine хранится в минимальных денежных единицах.
	Fine int64
	Note string
}

// ReservationStatus описывает состояние бронирования.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusApproved  ReservationStatus = "approved"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusExpired   ReservationStatus = "expired"
	ReservationStatusFulfilled ReservationStatus = "fulfilled"
)

// Active сообщает, занимает ли бронирование место в очереди.
func (s ReservationStatus) Active() bool {
	return s == ReservationStatusPending || s == ReservationStatusApproved
}

// Terminal сообщает, что из статуса нет переходов.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationStatusCancelled || s == ReservationStatusExpired || s == ReservationStatusFulfilled
}

// Valid проверяет, что статус известен.
func (s ReservationStatus) Valid() bool {
	return s.Active() || s.Terminal()
}

// Reservation описывает место читателя в очереди на книгу.
type Reservation struct {
	ID              int64
	BookID          int64
	MemberID        int64
	AccountID       int64
	ReservationDate time.Time
	ExpiryDate      time.Time
	Status          ReservationStatus
	Priority        int
	Note            string
}

// Fine описывает расчёт штрафа по выдаче.
type Fine struct {
	LoanID   int64 `json:"loan_id"`
	Amount   int64 `json:"amount"`
	DaysLate int   `json:"days_late"`
	Returned bool  `json:"returned"`
}

// Role описывает права аккаунта.
type Role string

const (
	RoleMember    Role = "member"
	RoleLibrarian Role = "librarian"
)

// Account описывает аутентифицированного пользователя из внешнего сервиса учётных записей.
type Account struct {
	ID    int64
	Role  Role
	Email string
}
