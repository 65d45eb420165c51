package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/library-circulation/internal/model"
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := runMigrations(ctx, db, goose.DialectPostgres, "migrations/postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Ретраим только конфликты сериализации и взаимные блокировки.
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const pgBookColumns = `id, code, isbn, title, author, total_copies, available_copies`

func scanPgBook(row pgx.Row) (*model.Book, error) {
	var b model.Book
	if err := row.Scan(&b.ID, &b.Code, &b.ISBN, &b.Title, &b.Author, &b.TotalCopies, &b.AvailableCopies); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBook добавляет книгу в каталог.
func (r *PostgresRepository) CreateBook(ctx context.Context, b *model.Book) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO books (code, isbn, title, author, total_copies, available_copies)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		b.Code, b.ISBN, b.Title, b.Author, b.TotalCopies, b.AvailableCopies,
	).Scan(&id)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return 0, fmt.Errorf("%w: book code %q already exists", model.ErrInvalidInput, b.Code)
		}
		if isCheckViolation(err) {
			return 0, fmt.Errorf("%w: copies %d/%d", model.ErrInvalidInput, b.AvailableCopies, b.TotalCopies)
		}
		return 0, fmt.Errorf("create book: %w", err)
	}
	return id, nil
}

// GetBook возвращает книгу по идентификатору.
func (r *PostgresRepository) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	b, err := scanPgBook(r.pool.QueryRow(ctx,
		`SELECT `+pgBookColumns+` FROM books WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: book %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

// DecrementAvailable уменьшает число свободных экземпляров одним условным UPDATE.
func (r *PostgresRepository) DecrementAvailable(ctx context.Context, bookID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE books SET available_copies = available_copies - 1
		 WHERE id = $1 AND available_copies > 0`,
		bookID,
	)
	if err != nil {
		return fmt.Errorf("decrement available: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetBook(ctx, bookID); err != nil {
		return err
	}
	return fmt.Errorf("%w: book %d", model.ErrOutOfStock, bookID)
}

// IncrementAvailable возвращает экземпляр на полку, не превышая общего числа экземпляров.
func (r *PostgresRepository) IncrementAvailable(ctx context.Context, bookID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE books SET available_copies = available_copies + 1
		 WHERE id = $1 AND available_copies < total_copies`,
		bookID,
	)
	if err != nil {
		return fmt.Errorf("increment available: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetBook(ctx, bookID); err != nil {
		return err
	}
	return fmt.Errorf("%w: book %d", model.ErrCapacityExceeded, bookID)
}

// SetCopies выполняет ручную корректировку остатков.
func (r *PostgresRepository) SetCopies(ctx context.Context, bookID int64, total, available int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE books SET total_copies = $2, available_copies = $3 WHERE id = $1`,
		bookID, total, available,
	)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: copies %d/%d", model.ErrInvalidInput, available, total)
		}
		return fmt.Errorf("set copies: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: book %d", model.ErrNotFound, bookID)
	}
	return nil
}

const pgMemberColumns = `id, account_id, code, name, email`

func scanPgMember(row pgx.Row) (*model.Member, error) {
	var m model.Member
	if err := row.Scan(&m.ID, &m.AccountID, &m.Code, &m.Name, &m.Email); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMember регистрирует читателя.
func (r *PostgresRepository) CreateMember(ctx context.Context, m *model.Member) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO members (account_id, code, name, email) VALUES ($1, $2, $3, $4) RETURNING id`,
		m.AccountID, m.Code, m.Name, m.Email,
	).Scan(&id)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return 0, fmt.Errorf("%w: member code or account already registered", model.ErrInvalidInput)
		}
		return 0, fmt.Errorf("create member: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) getMemberWhere(ctx context.Context, where string, arg any) (*model.Member, error) {
	m, err := scanPgMember(r.pool.QueryRow(ctx,
		`SELECT `+pgMemberColumns+` FROM members WHERE `+where+` ORDER BY id LIMIT 1`, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: member %v", model.ErrNotFound, arg)
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// GetMember возвращает читателя по идентификатору.
func (r *PostgresRepository) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	return r.getMemberWhere(ctx, `id = $1`, id)
}

// GetMemberByAccount возвращает читателя, привязанного к аккаунту.
func (r *PostgresRepository) GetMemberByAccount(ctx context.Context, accountID int64) (*model.Member, error) {
	return r.getMemberWhere(ctx, `account_id = $1`, accountID)
}

// GetMemberByEmail ищет читателя по email без учёта регистра.
func (r *PostgresRepository) GetMemberByEmail(ctx context.Context, email string) (*model.Member, error) {
	return r.getMemberWhere(ctx, `lower(email) = lower($1)`, email)
}

const pgLoanColumns = `id, book_id, member_id, book_title, book_author, book_isbn, book_code,
	member_name, member_code, member_email, borrow_date, due_date, return_date, status, fine, note`

func scanPgLoan(row pgx.Row) (*model.Loan, error) {
	var (
		l      model.Loan
		status string
	)
	err := row.Scan(&l.ID, &l.BookID, &l.MemberID,
		&l.Snapshot.BookTitle, &l.Snapshot.BookAuthor, &l.Snapshot.BookISBN, &l.Snapshot.BookCode,
		&l.Snapshot.MemberName, &l.Snapshot.MemberCode, &l.Snapshot.MemberEmail,
		&l.BorrowDate, &l.DueDate, &l.ReturnDate, &status, &l.Fine, &l.Note)
	if err != nil {
		return nil, err
	}
	l.Status = model.LoanStatus(status)
	return &l, nil
}

// InsertLoan создаёт выдачу, проверяя лимит активных выдач и повторную выдачу в одной транзакции.
// Строка читателя блокируется, поэтому параллельные выдачи одному читателю выполняются по очереди.
func (r *PostgresRepository) InsertLoan(ctx context.Context, l *model.Loan, maxActive int) (int64, error) {
	var id int64
	err := r.withRetry(ctx, func() error {
		var err error
		id, err = r.insertLoanTx(ctx, l, maxActive)
		return err
	})
	return id, err
}

func (r *PostgresRepository) insertLoanTx(ctx context.Context, l *model.Loan, maxActive int) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM members WHERE id = $1 FOR UPDATE`, l.MemberID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: member %d", model.ErrNotFound, l.MemberID)
		}
		return 0, fmt.Errorf("lock member for update: %w", err)
	}

	var active, sameBook int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE book_id = $2)
		 FROM loans
		 WHERE member_id = $1 AND status = ANY($3)`,
		l.MemberID, l.BookID, activeLoanStatuses,
	).Scan(&active, &sameBook)
	if err != nil {
		return 0, fmt.Errorf("count active loans: %w", err)
	}

	if sameBook > 0 {
		return 0, fmt.Errorf("%w: book %d", model.ErrDuplicateLoan, l.BookID)
	}
	if active >= maxActive {
		return 0, fmt.Errorf("%w: %d of %d", model.ErrBorrowLimitExceeded, active, maxActive)
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO loans (book_id, member_id, book_title, book_author, book_isbn, book_code,
			member_name, member_code, member_email, borrow_date, due_date, status, fine, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13)
		 RETURNING id`,
		l.BookID, l.MemberID,
		l.Snapshot.BookTitle, l.Snapshot.BookAuthor, l.Snapshot.BookISBN, l.Snapshot.BookCode,
		l.Snapshot.MemberName, l.Snapshot.MemberCode, l.Snapshot.MemberEmail,
		l.BorrowDate, l.DueDate, string(model.LoanStatusBorrowed), l.Note,
	).Scan(&id)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return 0, fmt.Errorf("%w: book %d", model.ErrDuplicateLoan, l.BookID)
		}
		return 0, fmt.Errorf("insert loan: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

// GetLoan возвращает выдачу по идентификатору.
func (r *PostgresRepository) GetLoan(ctx context.Context, id int64) (*model.Loan, error) {
	l, err := scanPgLoan(r.pool.QueryRow(ctx,
		`SELECT `+pgLoanColumns+` FROM loans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: loan %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return l, nil
}

// CloseLoan закрывает выдачу, фиксируя дату возврата и штраф. Закрытая выдача не меняется повторно.
func (r *PostgresRepository) CloseLoan(ctx context.Context, id int64, returnedAt time.Time, fine int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE loans SET status = $2, return_date = $3, fine = $4
		 WHERE id = $1 AND status <> $2`,
		id, string(model.LoanStatusReturned), returnedAt, fine,
	)
	if err != nil {
		return fmt.Errorf("close loan: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetLoan(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: loan %d", model.ErrAlreadyReturned, id)
}

// UpdateDueDate переносит срок возврата, если выдача всё ещё в статусе Borrowed и срок не менялся.
func (r *PostgresRepository) UpdateDueDate(ctx context.Context, id int64, oldDue, newDue time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE loans SET due_date = $3
		 WHERE id = $1 AND status = $4 AND due_date = $2`,
		id, oldDue, newDue, string(model.LoanStatusBorrowed),
	)
	if err != nil {
		return fmt.Errorf("update due date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: loan %d changed concurrently", model.ErrNotBorrowed, id)
	}
	return nil
}

func (r *PostgresRepository) queryLoans(ctx context.Context, query string, args ...any) ([]model.Loan, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	defer rows.Close()

	var res []model.Loan
	for rows.Next() {
		l, err := scanPgLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		res = append(res, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListLoansByStatus возвращает выдачи в указанных статусах, упорядоченные по сроку возврата.
func (r *PostgresRepository) ListLoansByStatus(ctx context.Context, statuses ...model.LoanStatus) ([]model.Loan, error) {
	return r.queryLoans(ctx,
		`SELECT `+pgLoanColumns+` FROM loans WHERE status = ANY($1) ORDER BY due_date, id`,
		statusStrings(statuses),
	)
}

// ListLoansByMember возвращает историю выдач читателя, начиная с последних.
func (r *PostgresRepository) ListLoansByMember(ctx context.Context, memberID int64) ([]model.Loan, error) {
	return r.queryLoans(ctx,
		`SELECT `+pgLoanColumns+` FROM loans WHERE member_id = $1 ORDER BY borrow_date DESC, id DESC`,
		memberID,
	)
}

// MarkLoansOverdue переводит указанные выдачи из Borrowed в Overdue и возвращает фактически переведённые.
func (r *PostgresRepository) MarkLoansOverdue(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`UPDATE loans SET status = $2
		 WHERE id = ANY($1) AND status = $3
		 RETURNING id`,
		ids, string(model.LoanStatusOverdue), string(model.LoanStatusBorrowed),
	)
	if err != nil {
		return nil, fmt.Errorf("mark overdue: %w", err)
	}

	promoted, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect overdue ids: %w", err)
	}
	return promoted, nil
}

const pgReservationColumns = `id, book_id, member_id, account_id, reservation_date, expiry_date, status, priority, note`

func scanPgReservation(row pgx.Row) (*model.Reservation, error) {
	var (
		res    model.Reservation
		status string
	)
	err := row.Scan(&res.ID, &res.BookID, &res.MemberID, &res.AccountID,
		&res.ReservationDate, &res.ExpiryDate, &status, &res.Priority, &res.Note)
	if err != nil {
		return nil, err
	}
	res.Status = model.ReservationStatus(status)
	return &res, nil
}

// InsertReservation ставит читателя в очередь на книгу. Строка книги блокируется на время
// проверки остатков, повторного бронирования и назначения приоритета.
func (r *PostgresRepository) InsertReservation(ctx context.Context, res *model.Reservation) (*model.Reservation, error) {
	var created *model.Reservation
	err := r.withRetry(ctx, func() error {
		var err error
		created, err = r.insertReservationTx(ctx, res)
		return err
	})
	return created, err
}

func (r *PostgresRepository) insertReservationTx(ctx context.Context, res *model.Reservation) (*model.Reservation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var available int
	err = tx.QueryRow(ctx, `SELECT available_copies FROM books WHERE id = $1 FOR UPDATE`, res.BookID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: book %d", model.ErrNotFound, res.BookID)
		}
		return nil, fmt.Errorf("lock book for update: %w", err)
	}
	if available > 0 {
		return nil, fmt.Errorf("%w: %d copies of book %d", model.ErrBookAvailable, available, res.BookID)
	}

	var count, sameMember, maxPriority int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE member_id = $2), COALESCE(MAX(priority), 0)
		 FROM reservations
		 WHERE book_id = $1 AND status = ANY($3)`,
		res.BookID, res.MemberID, activeReservationStatuses,
	).Scan(&count, &sameMember, &maxPriority)
	if err != nil {
		return nil, fmt.Errorf("count active reservations: %w", err)
	}
	if sameMember > 0 {
		return nil, fmt.Errorf("%w: book %d", model.ErrDuplicateReservation, res.BookID)
	}

	created := *res
	created.Priority = nextPriority(count, maxPriority)
	created.Status = model.ReservationStatusPending

	err = tx.QueryRow(ctx,
		`INSERT INTO reservations (book_id, member_id, account_id, reservation_date, expiry_date, status, priority, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		created.BookID, created.MemberID, created.AccountID, created.ReservationDate, created.ExpiryDate,
		string(created.Status), created.Priority, created.Note,
	).Scan(&created.ID)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return nil, fmt.Errorf("%w: book %d", model.ErrDuplicateReservation, res.BookID)
		}
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &created, nil
}

// GetReservation возвращает бронирование по идентификатору.
func (r *PostgresRepository) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	res, err := scanPgReservation(r.pool.QueryRow(ctx,
		`SELECT `+pgReservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: reservation %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

// SetReservationStatus меняет статус, только если текущий статус равен from.
// Возвращает false, если статус успели изменить.
func (r *PostgresRepository) SetReservationStatus(ctx context.Context, id int64, from, to model.ReservationStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE reservations SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return false, fmt.Errorf("%w: reservation %d", model.ErrDuplicateReservation, id)
		}
		return false, fmt.Errorf("set reservation status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListActiveReservations возвращает очередь на книгу в порядке обслуживания.
func (r *PostgresRepository) ListActiveReservations(ctx context.Context, bookID int64) ([]model.Reservation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+pgReservationColumns+`
		 FROM reservations
		 WHERE book_id = $1 AND status = ANY($2)
		 ORDER BY priority, reservation_date, id`,
		bookID, activeReservationStatuses,
	)
	if err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	defer rows.Close()

	var res []model.Reservation
	for rows.Next() {
		item, err := scanPgReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		res = append(res, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ExpireReservations переводит просроченные активные бронирования в expired.
func (r *PostgresRepository) ExpireReservations(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE reservations SET status = $1
		 WHERE status = ANY($2) AND expiry_date < $3
		 RETURNING id`,
		string(model.ReservationStatusExpired), activeReservationStatuses, now,
	)
	if err != nil {
		return nil, fmt.Errorf("expire reservations: %w", err)
	}

	expired, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect expired ids: %w", err)
	}
	return expired, nil
}

// FulfilReservation отмечает активное бронирование читателя на книгу как исполненное.
func (r *PostgresRepository) FulfilReservation(ctx context.Context, bookID, memberID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE reservations SET status = $3
		 WHERE book_id = $1 AND member_id = $2 AND status = ANY($4)`,
		bookID, memberID, string(model.ReservationStatusFulfilled), activeReservationStatuses,
	)
	if err != nil {
		return false, fmt.Errorf("fulfil reservation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
