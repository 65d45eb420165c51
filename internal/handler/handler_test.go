package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/library-circulation/internal/middleware"
	"github.com/mmeshcher/library-circulation/internal/model"
	"github.com/mmeshcher/library-circulation/internal/service"
)

var (
	librarian = model.Account{ID: 1, Role: model.RoleLibrarian, Email: "lib@example.com"}
	reader    = model.Account{ID: 2, Role: model.RoleMember, Email: "reader@example.com"}
)

type stubService struct {
	lastAccount model.Account
	lastBorrow  service.BorrowRequest

	loan    *model.Loan
	loanErr error

	returnResp *service.ReturnResult
	returnErr  error

	loans    []model.Loan
	loansErr error

	reservation    *model.Reservation
	reservationErr error
}

func (s *stubService) Borrow(_ context.Context, acc model.Account, req service.BorrowRequest) (*model.Loan, error) {
	s.lastAccount = acc
	s.lastBorrow = req
	return s.loan, s.loanErr
}

func (s *stubService) Return(_ context.Context, acc model.Account, _ int64) (*service.ReturnResult, error) {
	s.lastAccount = acc
	return s.returnResp, s.returnErr
}

func (s *stubService) Extend(_ context.Context, acc model.Account, _ int64, _ time.Time) (*model.Loan, error) {
	s.lastAccount = acc
	return s.loan, s.loanErr
}

func (s *stubService) Fine(_ context.Context, _ model.Account, loanID int64) (*model.Fine, error) {
	return &model.Fine{LoanID: loanID, Amount: 300, DaysLate: 3}, nil
}

func (s *stubService) Loan(_ context.Context, _ model.Account, _ int64) (*model.Loan, error) {
	return s.loan, s.loanErr
}

func (s *stubService) ListOverdue(_ context.Context, _ model.Account) ([]model.Loan, error) {
	return s.loans, s.loansErr
}

func (s *stubService) SweepOverdue(_ context.Context, _ model.Account) (int, error) {
	return len(s.loans), s.loansErr
}

func (s *stubService) MyLoans(_ context.Context, acc model.Account) ([]model.Loan, error) {
	s.lastAccount = acc
	return s.loans, s.loansErr
}

func (s *stubService) Reserve(_ context.Context, acc model.Account, _ int64, _ string) (*model.Reservation, error) {
	s.lastAccount = acc
	return s.reservation, s.reservationErr
}

func (s *stubService) CancelReservation(_ context.Context, acc model.Account, _ int64) (*model.Reservation, error) {
	s.lastAccount = acc
	return s.reservation, s.reservationErr
}

func (s *stubService) UpdateReservationStatus(_ context.Context, _ model.Account, _ int64, _ model.ReservationStatus) (*model.Reservation, error) {
	return s.reservation, s.reservationErr
}

func (s *stubService) BookReservations(_ context.Context, _ model.Account, _ int64) ([]model.Reservation, error) {
	if s.reservation == nil {
		return nil, s.reservationErr
	}
	return []model.Reservation{*s.reservation}, s.reservationErr
}

func (s *stubService) AddBook(_ context.Context, _ model.Account, b model.Book) (*model.Book, error) {
	b.ID = 10
	b.AvailableCopies = b.TotalCopies
	return &b, nil
}

func (s *stubService) CorrectInventory(_ context.Context, _ model.Account, bookID int64, total, available int) (*model.Book, error) {
	return &model.Book{ID: bookID, TotalCopies: total, AvailableCopies: available}, nil
}

func (s *stubService) RegisterMember(_ context.Context, _ model.Account, m model.Member) (*model.Member, error) {
	m.ID = 5
	return &m, nil
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func do(t *testing.T, h *Handler, acc *model.Account, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if acc != nil {
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: h.authMiddleware.IssueToken(*acc)})
	}
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	return rec.Result()
}

func decodeError(t *testing.T, res *http.Response) errorResponse {
	t.Helper()

	var e errorResponse
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

func sampleLoan() *model.Loan {
	borrowed := time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)
	return &model.Loan{
		ID:         7,
		BookID:     3,
		MemberID:   4,
		Snapshot:   model.LoanSnapshot{BookTitle: "Dune", MemberCode: "M004"},
		BorrowDate: borrowed,
		DueDate:    borrowed.Add(14 * 24 * time.Hour),
		Status:     model.LoanStatusBorrowed,
	}
}

func TestBorrow_Created(t *testing.T) {
	svc := &stubService{loan: sampleLoan()}
	h := newTestHandler(t, svc)

	due := time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)
	res := do(t, h, &reader, http.MethodPost, "/api/loans", borrowRequest{BookID: 3, DueDate: due})
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var got loanResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != 7 || got.Snapshot.BookTitle != "Dune" || got.Status != "Borrowed" {
		t.Fatalf("unexpected loan %+v", got)
	}
	if svc.lastAccount != reader {
		t.Fatalf("account = %+v, want %+v", svc.lastAccount, reader)
	}
	if !svc.lastBorrow.DueDate.Equal(due) || svc.lastBorrow.BookID != 3 {
		t.Fatalf("borrow request = %+v", svc.lastBorrow)
	}
}

func TestBorrow_ErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		wantKind string
	}{
		{name: "out of stock", err: fmt.Errorf("%w: book 3", model.ErrOutOfStock), status: http.StatusConflict, wantKind: "OutOfStock"},
		{name: "limit", err: model.ErrBorrowLimitExceeded, status: http.StatusConflict, wantKind: "BorrowLimitExceeded"},
		{name: "not registered", err: model.ErrMemberNotRegistered, status: http.StatusForbidden, wantKind: "MemberNotRegistered"},
		{name: "missing book", err: model.ErrNotFound, status: http.StatusNotFound, wantKind: "NotFound"},
		{name: "bad due date", err: model.ErrInvalidInput, status: http.StatusBadRequest, wantKind: "InvalidInput"},
		{name: "storage failure", err: errors.New("connection reset"), status: http.StatusInternalServerError, wantKind: "Internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{loanErr: tt.err})

			res := do(t, h, &reader, http.MethodPost, "/api/loans", borrowRequest{BookID: 3, DueDate: time.Now().Add(time.Hour)})
			defer res.Body.Close()

			if res.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.status)
			}
			if e := decodeError(t, res); e.Error != tt.wantKind {
				t.Fatalf("error kind = %q, want %q", e.Error, tt.wantKind)
			}
		})
	}
}

func TestBorrow_BadRequest(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, &reader, http.MethodPost, "/api/loans", map[string]any{"due_date": "2026-01-15T12:00:00Z"})
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestUnauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, nil, http.MethodGet, "/api/members/me/loans", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestLibrarianRoutes_ForbiddenForMembers(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, &reader, http.MethodPost, "/api/loans/7/return", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestReturn_Warning(t *testing.T) {
	loan := sampleLoan()
	loan.Status = model.LoanStatusReturned
	returned := loan.DueDate
	loan.ReturnDate = &returned

	svc := &stubService{returnResp: &service.ReturnResult{
		Loan:            loan,
		Warning:         "loan returned, inventory not updated",
		NextReservation: &model.Reservation{ID: 9, BookID: 3, Priority: 1, Status: model.ReservationStatusPending},
	}}
	h := newTestHandler(t, svc)

	res := do(t, h, &librarian, http.MethodPost, "/api/loans/7/return", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got returnResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Warning == "" {
		t.Fatalf("warning is empty")
	}
	if got.Loan.ReturnDate == nil || got.Loan.Status != "Returned" {
		t.Fatalf("unexpected loan %+v", got.Loan)
	}
	if got.NextReservation == nil || got.NextReservation.ID != 9 {
		t.Fatalf("next reservation = %+v", got.NextReservation)
	}
}

func TestExtend_InvalidExtension(t *testing.T) {
	h := newTestHandler(t, &stubService{loanErr: model.ErrInvalidExtension})

	res := do(t, h, &librarian, http.MethodPost, "/api/loans/7/extend", extendRequest{DueDate: time.Now()})
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestInvalidPathID(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, &librarian, http.MethodGet, "/api/loans/abc/fine", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestListOverdue_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{loans: []model.Loan{}})

	res := do(t, h, &librarian, http.MethodGet, "/api/loans/overdue", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestMyLoans_JSONResponse(t *testing.T) {
	h := newTestHandler(t, &stubService{loans: []model.Loan{*sampleLoan()}})

	res := do(t, h, &reader, http.MethodGet, "/api/members/me/loans", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var got []loanResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].DueDate != "2026-01-15T12:00:00Z" {
		t.Fatalf("unexpected loans %+v", got)
	}
}

func TestCancelReservation_AlreadyCancelled(t *testing.T) {
	h := newTestHandler(t, &stubService{reservationErr: model.ErrAlreadyCancelled})

	res := do(t, h, &reader, http.MethodDelete, "/api/reservations/9", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
	if e := decodeError(t, res); e.Error != "AlreadyCancelled" {
		t.Fatalf("error kind = %q", e.Error)
	}
}

func TestAddBook_Created(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, &librarian, http.MethodPost, "/api/books", bookRequest{
		Code: "B1", ISBN: "9780306406157", Title: "Dune", TotalCopies: 2,
	})
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var got bookResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != 10 || got.AvailableCopies != 2 {
		t.Fatalf("unexpected book %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, nil, http.MethodGet, "/metrics", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestStatusForKind(t *testing.T) {
	tests := map[string]int{
		"NotFound":             http.StatusNotFound,
		"Forbidden":            http.StatusForbidden,
		"MemberNotRegistered":  http.StatusForbidden,
		"InvalidInput":         http.StatusBadRequest,
		"InvalidExtension":     http.StatusUnprocessableEntity,
		"DuplicateReservation": http.StatusConflict,
		"ReservationClosed":    http.StatusConflict,
		"":                     http.StatusInternalServerError,
	}

	for kind, want := range tests {
		if got := statusForKind(kind); got != want {
			t.Errorf("statusForKind(%q) = %d, want %d", kind, got, want)
		}
	}
}
