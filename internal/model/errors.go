package model

import "errors"

// Ошибки предметной области. Каждая ошибка соответствует виду из kinds.
var (
	ErrNotFound             = errors.New("not found")
	ErrOutOfStock           = errors.New("no available copies")
	ErrCapacityExceeded     = errors.New("available copies would exceed total copies")
	ErrBorrowLimitExceeded  = errors.New("borrow limit exceeded")
	ErrDuplicateLoan        = errors.New("member already holds an active loan for this book")
	ErrDuplicateReservation = errors.New("member already holds an active reservation for this book")
	ErrBookAvailable        = errors.New("book has available copies, borrow it instead")
	ErrAlreadyReturned      = errors.New("loan already returned")
	ErrAlreadyCancelled     = errors.New("reservation already cancelled")
	ErrNotBorrowed          = errors.New("loan is not in borrowed state")
	ErrInvalidExtension     = errors.New("invalid due date extension")
	ErrForbidden            = errors.New("forbidden")
	ErrMemberNotRegistered  = errors.New("no member registered for this account")
	ErrInvalidInput         = errors.New("invalid input")
	ErrReservationClosed    = errors.New("reservation is closed")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotFound, "NotFound"},
	{ErrOutOfStock, "OutOfStock"},
	{ErrCapacityExceeded, "CapacityExceeded"},
	{ErrBorrowLimitExceeded, "BorrowLimitExceeded"},
	{ErrDuplicateLoan, "DuplicateLoan"},
	{ErrDuplicateReservation, "DuplicateReservation"},
	{ErrBookAvailable, "BookAvailable"},
	{ErrAlreadyReturned, "AlreadyReturned"},
	{ErrAlreadyCancelled, "AlreadyCancelled"},
	{ErrNotBorrowed, "NotBorrowed"},
	{ErrInvalidExtension, "InvalidExtension"},
	{ErrForbidden, "Forbidden"},
	{ErrMemberNotRegistered, "MemberNotRegistered"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrReservationClosed, "ReservationClosed"},
}

// KindOf возвращает вид доменной ошибки или пустую строку для прочих ошибок.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}
