package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/library-circulation/internal/metrics"
	"github.com/mmeshcher/library-circulation/internal/model"
	"github.com/mmeshcher/library-circulation/internal/notify"
	"github.com/mmeshcher/library-circulation/internal/validation"
)

// Option настраивает Circulation.
type Option func(*Circulation)

// WithClock подменяет источник времени.
func WithClock(now Clock) Option {
	return func(c *Circulation) { c.now = now }
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(c *Circulation) { c.logger = l }
}

// WithNotifier задаёт клиент уведомлений.
func WithNotifier(n Notifier) Option {
	return func(c *Circulation) { c.notifier = n }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Circulation) { c.metrics = m }
}

// Circulation является точкой входа для операций выдачи. Она упорядочивает вызовы
// счётчика остатков, журнала выдач и очереди бронирований.
type Circulation struct {
	repo     Repository
	policy   Policy
	now      Clock
	logger   *zap.Logger
	notifier Notifier
	metrics  *metrics.Metrics

	inventory *Inventory
	ledger    *Ledger
	queue     *ReservationQueue
	members   *MemberDirectory
	sweeper   *Sweeper
}

// NewCirculation создаёт сервис выдачи поверх репозитория и правил policy.
func NewCirculation(repo Repository, policy Policy, opts ...Option) *Circulation {
	c := &Circulation{
		repo:   repo,
		policy: policy,
		now:    systemClock,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.inventory = NewInventory(repo)
	c.ledger = NewLedger(repo, policy, c.now)
	c.queue = NewReservationQueue(repo, policy, c.now)
	c.members = NewMemberDirectory(repo)
	c.sweeper = &Sweeper{
		ledger:   c.ledger,
		queue:    c.queue,
		notifier: c.notifier,
		metrics:  c.metrics,
		logger:   c.logger,
		now:      c.now,
	}

	return c
}

// Close закрывает ресурсы сервиса.
func (c *Circulation) Close() error {
	if c.repo != nil {
		return c.repo.Close()
	}
	return nil
}

// Sweeper возвращает фоновую сверку просрочек.
func (c *Circulation) Sweeper() *Sweeper {
	return c.sweeper
}

func requireLibrarian(acc model.Account) error {
	if acc.Role != model.RoleLibrarian {
		return fmt.Errorf("%w: librarian role required", model.ErrForbidden)
	}
	return nil
}

// BorrowRequest описывает запрос на выдачу. MemberID указывает библиотекарь, выдающий книгу читателю.
type BorrowRequest struct {
	BookID   int64
	MemberID *int64
	DueDate  time.Time
	Note     string
}

// Borrow выдаёт книгу. Сначала атомарно забирается экземпляр, затем журнал проверяет правила
// и создаёт выдачу; если журнал отказал, экземпляр возвращается на полку.
func (c *Circulation) Borrow(ctx context.Context, acc model.Account, req BorrowRequest) (loan *model.Loan, err error) {
	defer func() { c.metrics.ObserveOperation("borrow", err) }()

	member, err := c.borrower(ctx, acc, req.MemberID)
	if err != nil {
		return nil, err
	}

	book, err := c.inventory.Get(ctx, req.BookID)
	if err != nil {
		return nil, err
	}

	if err := c.ledger.ValidateDueDate(req.DueDate); err != nil {
		return nil, err
	}

	if book.AvailableCopies == 0 {
		return nil, fmt.Errorf("%w: book %d", model.ErrOutOfStock, book.ID)
	}

	if err := c.inventory.Decrement(ctx, book.ID); err != nil {
		return nil, err
	}

	snapshot := model.NewLoanSnapshot(book, member)

	loan, err = c.ledger.CreateLoan(ctx, book.ID, member.ID, req.DueDate, snapshot, req.Note)
	if err != nil {
		if incErr := c.inventory.Increment(ctx, book.ID); incErr != nil {
			c.logger.Error("restore inventory after rejected loan",
				zap.Int64("book_id", book.ID), zap.Error(incErr), zap.NamedError("cause", err))
		}
		return nil, err
	}

	if _, ferr := c.queue.FulfilForLoan(ctx, book.ID, member.ID); ferr != nil {
		c.logger.Warn("fulfil reservation for loan", zap.Int64("loan_id", loan.ID), zap.Error(ferr))
	}

	c.logger.Info("book borrowed",
		zap.Int64("loan_id", loan.ID),
		zap.Int64("book_id", book.ID),
		zap.Int64("member_id", member.ID),
		zap.Time("due_date", loan.DueDate),
	)

	return loan, nil
}

func (c *Circulation) borrower(ctx context.Context, acc model.Account, memberID *int64) (*model.Member, error) {
	if memberID == nil {
		return c.members.Resolve(ctx, acc)
	}

	if acc.Role == model.RoleLibrarian {
		return c.members.Get(ctx, *memberID)
	}

	own, err := c.members.Resolve(ctx, acc)
	if err != nil {
		return nil, err
	}
	if own.ID != *memberID {
		return nil, fmt.Errorf("%w: members borrow only for themselves", model.ErrForbidden)
	}
	return own, nil
}

// ReturnResult описывает итог возврата.
type ReturnResult struct {
	Loan *model.Loan
	// Warning заполняется, если экземпляр не удалось вернуть в остатки; сам возврат при этом состоялся.
	Warning string
	// NextReservation содержит первого в очереди на книгу, если он есть.
	NextReservation *model.Reservation
}

// Return принимает книгу, фиксирует штраф и возвращает экземпляр в остатки.
func (c *Circulation) Return(ctx context.Context, acc model.Account, loanID int64) (res *ReturnResult, err error) {
	defer func() { c.metrics.ObserveOperation("return", err) }()

	if err := requireLibrarian(acc); err != nil {
		return nil, err
	}

	loan, err := c.ledger.ReturnLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	res = &ReturnResult{Loan: loan}

	if incErr := c.inventory.Increment(ctx, loan.BookID); incErr != nil {
		c.logger.Warn("inventory not restored after return",
			zap.Int64("loan_id", loan.ID), zap.Int64("book_id", loan.BookID), zap.Error(incErr))
		if c.metrics != nil {
			c.metrics.InventoryWarnings.Inc()
		}
		res.Warning = fmt.Sprintf("loan returned, inventory not updated: %v", incErr)
		return res, nil
	}

	next, qErr := c.queue.NextInLine(ctx, loan.BookID)
	if qErr != nil {
		c.logger.Warn("load reservation queue", zap.Int64("book_id", loan.BookID), zap.Error(qErr))
	}
	if next != nil {
		res.NextReservation = next
		c.notifyReservationReady(ctx, next, loan.Snapshot.BookTitle)
	}

	c.logger.Info("book returned",
		zap.Int64("loan_id", loan.ID),
		zap.Int64("book_id", loan.BookID),
		zap.Int64("fine", loan.Fine),
	)

	return res, nil
}

func (c *Circulation) notifyReservationReady(ctx context.Context, r *model.Reservation, title string) {
	if c.notifier == nil {
		return
	}

	e := notify.Event{
		Type:          notify.EventReservationReady,
		MemberID:      r.MemberID,
		BookID:        r.BookID,
		BookTitle:     title,
		ReservationID: r.ID,
		OccurredAt:    c.now(),
	}
	if m, err := c.members.Get(ctx, r.MemberID); err == nil {
		e.Email = m.Email
	}

	if err := c.notifier.Notify(ctx, e); err != nil {
		c.logger.Warn("reservation notification failed", zap.Int64("reservation_id", r.ID), zap.Error(err))
	}
}

// Extend продлевает срок возврата.
func (c *Circulation) Extend(ctx context.Context, acc model.Account, loanID int64, newDue time.Time) (loan *model.Loan, err error) {
	defer func() { c.metrics.ObserveOperation("extend", err) }()

	if err := requireLibrarian(acc); err != nil {
		return nil, err
	}
	return c.ledger.ExtendDueDate(ctx, loanID, newDue)
}

// Fine возвращает расчёт штрафа на текущий момент без изменения данных.
func (c *Circulation) Fine(ctx context.Context, acc model.Account, loanID int64) (*model.Fine, error) {
	if err := requireLibrarian(acc); err != nil {
		return nil, err
	}
	return c.ledger.CalculateFine(ctx, loanID)
}

// Loan возвращает выдачу по идентификатору.
func (c *Circulation) Loan(ctx context.Context, acc model.Account, loanID int64) (*model.Loan, error) {
	if err := requireLibrarian(acc); err != nil {
		return nil, err
	}
	return c.ledger.Get(ctx, loanID)
}

// ListOverdue возвращает все просроченные выдачи.
func (c *Circulation) ListOverdue(ctx context.Context, acc model.Account) ([]model.Loan, error) {
	if err := requireLibrarian(acc); err != nil {
		return nil, err
	}
	return c.ledger.ListOverdue(ctx)
}

// SweepOverdue запускает сверку просрочек по требованию и возвращает число переведённых выдач.
func (c *Circulation) SweepOverdue(ctx context.Context, acc model.Account) (int, error) {
	if err := requireLibrarian(acc); err != nil {
		return 0, err
	}
	promoted, err := c.sweeper.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	if c.metrics != nil {
		c.metrics.OverdueMarked.Add(float64(len(promoted)))
	}
	return len(promoted), nil
}

// MyLoans возвращает выдачи читателя, привязанного к аккаунту.
func (c *Circulation) MyLoans(ctx context.Context, acc model.Account) ([]model.Loan, error) {
	member, err := c.members.Resolve(ctx, acc)
	if err != nil {
		return nil, err
	}
	return c.ledger.MemberLoans(ctx, member.ID)
}

// Reserve ставит читателя аккаунта в очередь на книгу.
func (c *Circulation) Reserve(ctx context.Context, acc model.Account, bookID int64, note string) (res *model.Reservation, err error) {
	defer func() { c.metrics.ObserveOperation("reserve", err) }()

	member, err := c.members.Resolve(ctx, acc)
	if err != nil {
		return nil, err
	}

	res, err = c.queue.Create(ctx, bookID, member.ID, acc.ID, note)
	if err != nil {
		return nil, err
	}

	c.logger.Info("book reserved",
		zap.Int64("reservation_id", res.ID),
		zap.Int64("book_id", bookID),
		zap.Int64("member_id", member.ID),
		zap.Int("priority", res.Priority),
	)
	return res, nil
}

// CancelReservation отменяет собственное бронирование.
func (c *Circulation) CancelReservation(ctx context.Context, acc model.Account, id int64) (res *model.Reservation, err error) {
	defer func() { c.metrics.ObserveOperation("cancel", err) }()

	return c.queue.Cancel(ctx, id, acc.ID)
}

// UpdateReservationStatus меняет статус бронирования по решению библиотекаря.
func (c *Circulation) UpdateReservationStatus(ctx context.Context, acc model.Account, id int64, status model.ReservationStatus) (res *model.Reservation, err error) {
	defer func() { c.metrics.ObserveOperation("update_reservation", err) }()

	if err := requireLibrarian(acc); err != nil {
		return nil, err
	}
	return c.queue.UpdateStatus(ctx, id, status)
}

// BookReservations возвращает активную очередь на книгу.
func (c *Circulation) BookReservations(ctx context.Context, acc model.Account, bookID int64) ([]model.Reservation, error) {
	if err := requireLibrarian(acc); err != nil {
		return nil, err
	}
	if _, err := c.inventory.Get(ctx, bookID); err != nil {
		return nil, err
	}
	return c.queue.ListActive(ctx, bookID)
}

// AddBook добавляет книгу в каталог.
func (c *Circulation) AddBook(ctx context.Context, acc model.Account, b model.Book) (*model.Book, error) {
	if err := requireLibrarian(acc); err != nil {
		return nil, err
	}

	isbn := validation.NormalizeISBN(b.ISBN)
	if !validation.IsValidISBN(isbn) {
		return nil, fmt.Errorf("%w: isbn %q", model.ErrInvalidInput, b.ISBN)
	}
	b.ISBN = isbn

	return c.inventory.Add(ctx, b)
}

// CorrectInventory выставляет остатки книги вручную.
func (c *Circulation) CorrectInventory(ctx context.Context, acc model.Account, bookID int64, total, available int) (*model.Book, error) {
	if err := requireLibrarian(acc); err != nil {
		return nil, err
	}

	book, err := c.inventory.Correct(ctx, bookID, total, available)
	if err != nil {
		return nil, err
	}

	c.logger.Info("inventory corrected",
		zap.Int64("book_id", bookID), zap.Int("total", total), zap.Int("available", available))
	return book, nil
}

// RegisterMember регистрирует читателя.
func (c *Circulation) RegisterMember(ctx context.Context, acc model.Account, m model.Member) (*model.Member, error) {
	if err := requireLibrarian(acc); err != nil {
		return nil, err
	}
	return c.members.Register(ctx, m)
}
