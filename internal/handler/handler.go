// Package handler содержит HTTP-обработчики API сервиса выдачи книг.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/library-circulation/internal/middleware"
	"github.com/mmeshcher/library-circulation/internal/model"
	"github.com/mmeshcher/library-circulation/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Borrow(ctx context.Context, acc model.Account, req service.BorrowRequest) (*model.Loan, error)
	Return(ctx context.Context, acc model.Account, loanID int64) (*service.ReturnResult, error)
	Extend(ctx context.Context, acc model.Account, loanID int64, newDue time.Time) (*model.Loan, error)
	Fine(ctx context.Context, acc model.Account, loanID int64) (*model.Fine, error)
	Loan(ctx context.Context, acc model.Account, loanID int64) (*model.Loan, error)
	ListOverdue(ctx context.Context, acc model.Account) ([]model.Loan, error)
	SweepOverdue(ctx context.Context, acc model.Account) (int, error)
	MyLoans(ctx context.Context, acc model.Account) ([]model.Loan, error)
	Reserve(ctx context.Context, acc model.Account, bookID int64, note string) (*model.Reservation, error)
	CancelReservation(ctx context.Context, acc model.Account, id int64) (*model.Reservation, error)
	UpdateReservationStatus(ctx context.Context, acc model.Account, id int64, status model.ReservationStatus) (*model.Reservation, error)
	BookReservations(ctx context.Context, acc model.Account, bookID int64) ([]model.Reservation, error)
	AddBook(ctx context.Context, acc model.Account, b model.Book) (*model.Book, error)
	CorrectInventory(ctx context.Context, acc model.Account, bookID int64, total, available int) (*model.Book, error)
	RegisterMember(ctx context.Context, acc model.Account, m model.Member) (*model.Member, error)
}

// Handler реализует HTTP-обработчики API сервиса выдачи книг.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusForKind(kind string) int {
	switch kind {
	case "NotFound":
		return http.StatusNotFound
	case "Forbidden", "MemberNotRegistered":
		return http.StatusForbidden
	case "InvalidInput":
		return http.StatusBadRequest
	case "InvalidExtension":
		return http.StatusUnprocessableEntity
	case "":
		return http.StatusInternalServerError
	}
	return http.StatusConflict
}

// writeError отвечает видом доменной ошибки; прочие ошибки логируются и скрываются за 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := model.KindOf(err)
	status := statusForKind(kind)

	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error",
			zap.Error(err),
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		writeJSON(w, status, errorResponse{Error: "Internal", Message: http.StatusText(status)})
		return
	}

	writeJSON(w, status, errorResponse{Error: kind, Message: err.Error()})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "InvalidInput", Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request) (model.Account, bool) {
	acc, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return acc, ok
}

type loanResponse struct {
	ID         int64              `json:"id"`
	BookID     int64              `json:"book_id"`
	MemberID   int64              `json:"member_id"`
	Snapshot   model.LoanSnapshot `json:"snapshot"`
	BorrowDate string             `json:"borrow_date"`
	DueDate    string             `json:"due_date"`
	ReturnDate *string            `json:"return_date,omitempty"`
	Status     string             `json:"status"`
	Fine       int64              `json:"fine"`
	Note       string             `json:"note,omitempty"`
}

func newLoanResponse(l *model.Loan) loanResponse {
	resp := loanResponse{
		ID:         l.ID,
		BookID:     l.BookID,
		MemberID:   l.MemberID,
		Snapshot:   l.Snapshot,
		BorrowDate: l.BorrowDate.Format(time.RFC3339),
		DueDate:    l.DueDate.Format(time.RFC3339),
		Status:     string(l.Status),
		Fine:       l.Fine,
		Note:       l.Note,
	}
	if l.ReturnDate != nil {
		s := l.ReturnDate.Format(time.RFC3339)
		resp.ReturnDate = &s
	}
	return resp
}

func newLoanList(loans []model.Loan) []loanResponse {
	resp := make([]loanResponse, 0, len(loans))
	for i := range loans {
		resp = append(resp, newLoanResponse(&loans[i]))
	}
	return resp
}

type reservationResponse struct {
	ID              int64  `json:"id"`
	BookID          int64  `json:"book_id"`
	MemberID        int64  `json:"member_id"`
	ReservationDate string `json:"reservation_date"`
	ExpiryDate      string `json:"expiry_date"`
	Status          string `json:"status"`
	Priority        int    `json:"priority"`
	Note            string `json:"note,omitempty"`
}

func newReservationResponse(res *model.Reservation) reservationResponse {
	return reservationResponse{
		ID:              res.ID,
		BookID:          res.BookID,
		MemberID:        res.MemberID,
		ReservationDate: res.ReservationDate.Format(time.RFC3339),
		ExpiryDate:      res.ExpiryDate.Format(time.RFC3339),
		Status:          string(res.Status),
		Priority:        res.Priority,
		Note:            res.Note,
	}
}

type borrowRequest struct {
	BookID   int64     `json:"book_id"`
	MemberID *int64    `json:"member_id,omitempty"`
	DueDate  time.Time `json:"due_date"`
	Note     string    `json:"note,omitempty"`
}

// Borrow выдаёт книгу читателю.
func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	var req borrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	if req.BookID <= 0 {
		writeBadRequest(w, "book_id is required")
		return
	}

	loan, err := h.service.Borrow(r.Context(), acc, service.BorrowRequest{
		BookID:   req.BookID,
		MemberID: req.MemberID,
		DueDate:  req.DueDate,
		Note:     req.Note,
	})
	if err != nil {
		h.writeError(w, r, "borrow", err)
		return
	}

	writeJSON(w, http.StatusCreated, newLoanResponse(loan))
}

type returnResponse struct {
	Loan            loanResponse         `json:"loan"`
	Warning         string               `json:"warning,omitempty"`
	NextReservation *reservationResponse `json:"next_reservation,omitempty"`
}

// Return принимает книгу.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid loan id")
		return
	}

	res, err := h.service.Return(r.Context(), acc, id)
	if err != nil {
		h.writeError(w, r, "return", err)
		return
	}

	resp := returnResponse{Loan: newLoanResponse(res.Loan), Warning: res.Warning}
	if res.NextReservation != nil {
		next := newReservationResponse(res.NextReservation)
		resp.NextReservation = &next
	}

	writeJSON(w, http.StatusOK, resp)
}

type extendRequest struct {
	DueDate time.Time `json:"due_date"`
}

// Extend продлевает срок возврата.
func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid loan id")
		return
	}

	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	loan, err := h.service.Extend(r.Context(), acc, id, req.DueDate)
	if err != nil {
		h.writeError(w, r, "extend", err)
		return
	}

	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

// Fine возвращает текущий расчёт штрафа.
func (h *Handler) Fine(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid loan id")
		return
	}

	fine, err := h.service.Fine(r.Context(), acc, id)
	if err != nil {
		h.writeError(w, r, "fine", err)
		return
	}

	writeJSON(w, http.StatusOK, fine)
}

// GetLoan возвращает выдачу.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid loan id")
		return
	}

	loan, err := h.service.Loan(r.Context(), acc, id)
	if err != nil {
		h.writeError(w, r, "get loan", err)
		return
	}

	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

// ListOverdue возвращает просроченные выдачи.
func (h *Handler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	loans, err := h.service.ListOverdue(r.Context(), acc)
	if err != nil {
		h.writeError(w, r, "list overdue", err)
		return
	}

	if len(loans) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, newLoanList(loans))
}

type sweepResponse struct {
	Promoted int `json:"promoted"`
}

// Sweep запускает сверку просрочек вне расписания.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	n, err := h.service.SweepOverdue(r.Context(), acc)
	if err != nil {
		h.writeError(w, r, "sweep", err)
		return
	}

	writeJSON(w, http.StatusOK, sweepResponse{Promoted: n})
}

// MyLoans возвращает выдачи текущего читателя.
func (h *Handler) MyLoans(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	loans, err := h.service.MyLoans(r.Context(), acc)
	if err != nil {
		h.writeError(w, r, "member loans", err)
		return
	}

	if len(loans) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, newLoanList(loans))
}

type reserveRequest struct {
	BookID int64  `json:"book_id"`
	Note   string `json:"note,omitempty"`
}

// Reserve ставит текущего читателя в очередь на книгу.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	if req.BookID <= 0 {
		writeBadRequest(w, "book_id is required")
		return
	}

	res, err := h.service.Reserve(r.Context(), acc, req.BookID, req.Note)
	if err != nil {
		h.writeError(w, r, "reserve", err)
		return
	}

	writeJSON(w, http.StatusCreated, newReservationResponse(res))
}

// CancelReservation отменяет бронирование текущего читателя.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid reservation id")
		return
	}

	res, err := h.service.CancelReservation(r.Context(), acc, id)
	if err != nil {
		h.writeError(w, r, "cancel reservation", err)
		return
	}

	writeJSON(w, http.StatusOK, newReservationResponse(res))
}

type statusRequest struct {
	Status model.ReservationStatus `json:"status"`
}

// UpdateReservationStatus меняет статус бронирования.
func (h *Handler) UpdateReservationStatus(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid reservation id")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	res, err := h.service.UpdateReservationStatus(r.Context(), acc, id, req.Status)
	if err != nil {
		h.writeError(w, r, "update reservation", err)
		return
	}

	writeJSON(w, http.StatusOK, newReservationResponse(res))
}

// BookReservations возвращает очередь на книгу.
func (h *Handler) BookReservations(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid book id")
		return
	}

	queue, err := h.service.BookReservations(r.Context(), acc, id)
	if err != nil {
		h.writeError(w, r, "book reservations", err)
		return
	}

	if len(queue) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]reservationResponse, 0, len(queue))
	for i := range queue {
		resp = append(resp, newReservationResponse(&queue[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type bookRequest struct {
	Code        string `json:"code"`
	ISBN        string `json:"isbn"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	TotalCopies int    `json:"total_copies"`
}

type bookResponse struct {
	ID              int64  `json:"id"`
	Code            string `json:"code"`
	ISBN            string `json:"isbn"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

func newBookResponse(b *model.Book) bookResponse {
	return bookResponse{
		ID:              b.ID,
		Code:            b.Code,
		ISBN:            b.ISBN,
		Title:           b.Title,
		Author:          b.Author,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
	}
}

// AddBook добавляет книгу в каталог.
func (h *Handler) AddBook(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	book, err := h.service.AddBook(r.Context(), acc, model.Book{
		Code:        req.Code,
		ISBN:        req.ISBN,
		Title:       req.Title,
		Author:      req.Author,
		TotalCopies: req.TotalCopies,
	})
	if err != nil {
		h.writeError(w, r, "add book", err)
		return
	}

	writeJSON(w, http.StatusCreated, newBookResponse(book))
}

type inventoryRequest struct {
	TotalCopies     int `json:"total_copies"`
	AvailableCopies int `json:"available_copies"`
}

// CorrectInventory выставляет остатки книги.
func (h *Handler) CorrectInventory(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid book id")
		return
	}

	var req inventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	book, err := h.service.CorrectInventory(r.Context(), acc, id, req.TotalCopies, req.AvailableCopies)
	if err != nil {
		h.writeError(w, r, "correct inventory", err)
		return
	}

	writeJSON(w, http.StatusOK, newBookResponse(book))
}

type memberRequest struct {
	AccountID *int64 `json:"account_id,omitempty"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

type memberResponse struct {
	ID        int64  `json:"id"`
	AccountID *int64 `json:"account_id,omitempty"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// RegisterMember регистрирует читателя.
func (h *Handler) RegisterMember(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.account(w, r)
	if !ok {
		return
	}

	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	m, err := h.service.RegisterMember(r.Context(), acc, model.Member{
		AccountID: req.AccountID,
		Code:      req.Code,
		Name:      req.Name,
		Email:     req.Email,
	})
	if err != nil {
		h.writeError(w, r, "register member", err)
		return
	}

	writeJSON(w, http.StatusCreated, memberResponse{
		ID:        m.ID,
		AccountID: m.AccountID,
		Code:      m.Code,
		Name:      m.Name,
		Email:     m.Email,
	})
}
