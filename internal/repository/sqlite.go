package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mmeshcher/library-circulation/internal/model"
)

// SQLiteRepository хранит данные во встроенной базе SQLite.
// Все запросы идут через одно соединение, поэтому транзакции выполняются строго по очереди.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository открывает (или создаёт) файл базы и применяет миграции.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := runMigrations(ctx, db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteRepository{db: db}, nil
}

// Close закрывает базу.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func sqliteConstraint(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return se.Code(), true
	}
	return 0, false
}

func isSQLiteUnique(err error) bool {
	code, ok := sqliteConstraint(err)
	if !ok {
		return false
	}
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isSQLiteCheck(err error) bool {
	code, ok := sqliteConstraint(err)
	if !ok {
		return false
	}
	return code == sqlite3.SQLITE_CONSTRAINT_CHECK || strings.Contains(err.Error(), "CHECK constraint failed")
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(ns int64) time.Time { return time.Unix(0, ns).UTC() }

type rowScanner interface {
	Scan(dest ...any) error
}

const sqliteBookColumns = `id, code, isbn, title, author, total_copies, available_copies`

func scanSQLiteBook(row rowScanner) (*model.Book, error) {
	var b model.Book
	if err := row.Scan(&b.ID, &b.Code, &b.ISBN, &b.Title, &b.Author, &b.TotalCopies, &b.AvailableCopies); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBook добавляет книгу в каталог.
func (r *SQLiteRepository) CreateBook(ctx context.Context, b *model.Book) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO books (code, isbn, title, author, total_copies, available_copies, created_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.Code, b.ISBN, b.Title, b.Author, b.TotalCopies, b.AvailableCopies, toNanos(time.Now()),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return 0, fmt.Errorf("%w: book code %q already exists", model.ErrInvalidInput, b.Code)
		}
		if isSQLiteCheck(err) {
			return 0, fmt.Errorf("%w: copies %d/%d", model.ErrInvalidInput, b.AvailableCopies, b.TotalCopies)
		}
		return 0, fmt.Errorf("create book: %w", err)
	}
	return res.LastInsertId()
}

// GetBook возвращает книгу по идентификатору.
func (r *SQLiteRepository) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	b, err := scanSQLiteBook(r.db.QueryRowContext(ctx,
		`SELECT `+sqliteBookColumns+` FROM books WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: book %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

// DecrementAvailable уменьшает число свободных экземпляров одним условным UPDATE.
func (r *SQLiteRepository) DecrementAvailable(ctx context.Context, bookID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE books SET available_copies = available_copies - 1
		 WHERE id = ? AND available_copies > 0`,
		bookID,
	)
	if err != nil {
		return fmt.Errorf("decrement available: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetBook(ctx, bookID); err != nil {
		return err
	}
	return fmt.Errorf("%w: book %d", model.ErrOutOfStock, bookID)
}

// IncrementAvailable возвращает экземпляр на полку, не превышая общего числа экземпляров.
func (r *SQLiteRepository) IncrementAvailable(ctx context.Context, bookID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE books SET available_copies = available_copies + 1
		 WHERE id = ? AND available_copies < total_copies`,
		bookID,
	)
	if err != nil {
		return fmt.Errorf("increment available: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetBook(ctx, bookID); err != nil {
		return err
	}
	return fmt.Errorf("%w: book %d", model.ErrCapacityExceeded, bookID)
}

// SetCopies выполняет ручную корректировку остатков.
func (r *SQLiteRepository) SetCopies(ctx context.Context, bookID int64, total, available int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE books SET total_copies = ?, available_copies = ? WHERE id = ?`,
		total, available, bookID,
	)
	if err != nil {
		if isSQLiteCheck(err) {
			return fmt.Errorf("%w: copies %d/%d", model.ErrInvalidInput, available, total)
		}
		return fmt.Errorf("set copies: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: book %d", model.ErrNotFound, bookID)
	}
	return nil
}

const sqliteMemberColumns = `id, account_id, code, name, email`

func scanSQLiteMember(row rowScanner) (*model.Member, error) {
	var (
		m         model.Member
		accountID sql.NullInt64
	)
	if err := row.Scan(&m.ID, &accountID, &m.Code, &m.Name, &m.Email); err != nil {
		return nil, err
	}
	if accountID.Valid {
		v := accountID.Int64
		m.AccountID = &v
	}
	return &m, nil
}

// CreateMember регистрирует читателя.
func (r *SQLiteRepository) CreateMember(ctx context.Context, m *model.Member) (int64, error) {
	var accountID sql.NullInt64
	if m.AccountID != nil {
		accountID = sql.NullInt64{Int64: *m.AccountID, Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO members (account_id, code, name, email) VALUES (?, ?, ?, ?)`,
		accountID, m.Code, m.Name, m.Email,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return 0, fmt.Errorf("%w: member code or account already registered", model.ErrInvalidInput)
		}
		return 0, fmt.Errorf("create member: %w", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) getMemberWhere(ctx context.Context, where string, arg any) (*model.Member, error) {
	m, err := scanSQLiteMember(r.db.QueryRowContext(ctx,
		`SELECT `+sqliteMemberColumns+` FROM members WHERE `+where+` ORDER BY id LIMIT 1`, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: member %v", model.ErrNotFound, arg)
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// GetMember возвращает читателя по идентификатору.
func (r *SQLiteRepository) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	return r.getMemberWhere(ctx, `id = ?`, id)
}

// GetMemberByAccount возвращает читателя, привязанного к аккаунту.
func (r *SQLiteRepository) GetMemberByAccount(ctx context.Context, accountID int64) (*model.Member, error) {
	return r.getMemberWhere(ctx, `account_id = ?`, accountID)
}

// GetMemberByEmail ищет читателя по email без учёта регистра.
func (r *SQLiteRepository) GetMemberByEmail(ctx context.Context, email string) (*model.Member, error) {
	return r.getMemberWhere(ctx, `lower(email) = lower(?)`, email)
}

const sqliteLoanColumns = `id, book_id, member_id, book_title, book_author, book_isbn, book_code,
	member_name, member_code, member_email, borrow_date_ns, due_date_ns, return_date_ns, status, fine, note`

func scanSQLiteLoan(row rowScanner) (*model.Loan, error) {
	var (
		l               model.Loan
		borrowNs, dueNs int64
		returnNs        sql.NullInt64
		status          string
	)
	err := row.Scan(&l.ID, &l.BookID, &l.MemberID,
		&l.Snapshot.BookTitle, &l.Snapshot.BookAuthor, &l.Snapshot.BookISBN, &l.Snapshot.BookCode,
		&l.Snapshot.MemberName, &l.Snapshot.MemberCode, &l.Snapshot.MemberEmail,
		&borrowNs, &dueNs, &returnNs, &status, &l.Fine, &l.Note)
	if err != nil {
		return nil, err
	}
	l.BorrowDate = fromNanos(borrowNs)
	l.DueDate = fromNanos(dueNs)
	if returnNs.Valid {
		t := fromNanos(returnNs.Int64)
		l.ReturnDate = &t
	}
	l.Status = model.LoanStatus(status)
	return &l, nil
}

// InsertLoan создаёт выдачу, проверяя лимит активных выдач и повторную выдачу в одной транзакции.
func (r *SQLiteRepository) InsertLoan(ctx context.Context, l *model.Loan, maxActive int) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM members WHERE id = ?`, l.MemberID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: member %d", model.ErrNotFound, l.MemberID)
		}
		return 0, fmt.Errorf("select member: %w", err)
	}

	var active, sameBook int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN book_id = ? THEN 1 ELSE 0 END), 0)
		 FROM loans
		 WHERE member_id = ? AND status IN (?, ?)`,
		l.BookID, l.MemberID, activeLoanStatuses[0], activeLoanStatuses[1],
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

	res, err := tx.ExecContext(ctx,
		`INSERT INTO loans (book_id, member_id, book_title, book_author, book_isbn, book_code,
			member_name, member_code, member_email, borrow_date_ns, due_date_ns, status, fine, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		l.BookID, l.MemberID,
		l.Snapshot.BookTitle, l.Snapshot.BookAuthor, l.Snapshot.BookISBN, l.Snapshot.BookCode,
		l.Snapshot.MemberName, l.Snapshot.MemberCode, l.Snapshot.MemberEmail,
		toNanos(l.BorrowDate), toNanos(l.DueDate), string(model.LoanStatusBorrowed), l.Note,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return 0, fmt.Errorf("%w: book %d", model.ErrDuplicateLoan, l.BookID)
		}
		return 0, fmt.Errorf("insert loan: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("loan id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

// GetLoan возвращает выдачу по идентификатору.
func (r *SQLiteRepository) GetLoan(ctx context.Context, id int64) (*model.Loan, error) {
	l, err := scanSQLiteLoan(r.db.QueryRowContext(ctx,
		`SELECT `+sqliteLoanColumns+` FROM loans WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: loan %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return l, nil
}

// CloseLoan закрывает выдачу, фиксируя дату возврата и штраф.
func (r *SQLiteRepository) CloseLoan(ctx context.Context, id int64, returnedAt time.Time, fine int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE loans SET status = ?, return_date_ns = ?, fine = ?
		 WHERE id = ? AND status <> ?`,
		string(model.LoanStatusReturned), toNanos(returnedAt), fine, id, string(model.LoanStatusReturned),
	)
	if err != nil {
		return fmt.Errorf("close loan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetLoan(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: loan %d", model.ErrAlreadyReturned, id)
}

// UpdateDueDate переносит срок возврата, если выдача всё ещё в статусе Borrowed и срок не менялся.
func (r *SQLiteRepository) UpdateDueDate(ctx context.Context, id int64, oldDue, newDue time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE loans SET due_date_ns = ?
		 WHERE id = ? AND status = ? AND due_date_ns = ?`,
		toNanos(newDue), id, string(model.LoanStatusBorrowed), toNanos(oldDue),
	)
	if err != nil {
		return fmt.Errorf("update due date: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: loan %d changed concurrently", model.ErrNotBorrowed, id)
	}
	return nil
}

func (r *SQLiteRepository) queryLoans(ctx context.Context, query string, args ...any) ([]model.Loan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	defer rows.Close()

	var res []model.Loan
	for rows.Next() {
		l, err := scanSQLiteLoan(rows)
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
func (r *SQLiteRepository) ListLoansByStatus(ctx context.Context, statuses ...model.LoanStatus) ([]model.Loan, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(statuses))
	for _, s := range statusStrings(statuses) {
		args = append(args, s)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")

	return r.queryLoans(ctx,
		`SELECT `+sqliteLoanColumns+` FROM loans WHERE status IN (`+placeholders+`) ORDER BY due_date_ns, id`,
		args...,
	)
}

// ListLoansByMember возвращает историю выдач читателя, начиная с последних.
func (r *SQLiteRepository) ListLoansByMember(ctx context.Context, memberID int64) ([]model.Loan, error) {
	return r.queryLoans(ctx,
		`SELECT `+sqliteLoanColumns+` FROM loans WHERE member_id = ? ORDER BY borrow_date_ns DESC, id DESC`,
		memberID,
	)
}

// MarkLoansOverdue переводит указанные выдачи из Borrowed в Overdue и возвращает фактически переведённые.
func (r *SQLiteRepository) MarkLoansOverdue(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var promoted []int64
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`UPDATE loans SET status = ? WHERE id = ? AND status = ?`,
			string(model.LoanStatusOverdue), id, string(model.LoanStatusBorrowed),
		)
		if err != nil {
			return nil, fmt.Errorf("mark overdue: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			promoted = append(promoted, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return promoted, nil
}

const sqliteReservationColumns = `id, book_id, member_id, account_id, reservation_date_ns, expiry_date_ns, status, priority, note`

func scanSQLiteReservation(row rowScanner) (*model.Reservation, error) {
	var (
		res                model.Reservation
		reservedNs, expiry int64
		status             string
	)
	err := row.Scan(&res.ID, &res.BookID, &res.MemberID, &res.AccountID,
		&reservedNs, &expiry, &status, &res.Priority, &res.Note)
	if err != nil {
		return nil, err
	}
	res.ReservationDate = fromNanos(reservedNs)
	res.ExpiryDate = fromNanos(expiry)
	res.Status = model.ReservationStatus(status)
	return &res, nil
}

// InsertReservation ставит читателя в очередь на книгу в одной транзакции с проверкой остатков.
func (r *SQLiteRepository) InsertReservation(ctx context.Context, res *model.Reservation) (*model.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var available int
	err = tx.QueryRowContext(ctx, `SELECT available_copies FROM books WHERE id = ?`, res.BookID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: book %d", model.ErrNotFound, res.BookID)
		}
		return nil, fmt.Errorf("select book: %w", err)
	}
	if available > 0 {
		return nil, fmt.Errorf("%w: %d copies of book %d", model.ErrBookAvailable, available, res.BookID)
	}

	var count, sameMember, maxPriority int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN member_id = ? THEN 1 ELSE 0 END), 0), COALESCE(MAX(priority), 0)
		 FROM reservations
		 WHERE book_id = ? AND status IN (?, ?)`,
		res.MemberID, res.BookID, activeReservationStatuses[0], activeReservationStatuses[1],
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

	result, err := tx.ExecContext(ctx,
		`INSERT INTO reservations (book_id, member_id, account_id, reservation_date_ns, expiry_date_ns, status, priority, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		created.BookID, created.MemberID, created.AccountID,
		toNanos(created.ReservationDate), toNanos(created.ExpiryDate),
		string(created.Status), created.Priority, created.Note,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, fmt.Errorf("%w: book %d", model.ErrDuplicateReservation, res.BookID)
		}
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	created.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reservation id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &created, nil
}

// GetReservation возвращает бронирование по идентификатору.
func (r *SQLiteRepository) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	res, err := scanSQLiteReservation(r.db.QueryRowContext(ctx,
		`SELECT `+sqliteReservationColumns+` FROM reservations WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: reservation %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

// SetReservationStatus меняет статус, только если текущий статус равен from.
func (r *SQLiteRepository) SetReservationStatus(ctx context.Context, id int64, from, to model.ReservationStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return false, fmt.Errorf("%w: reservation %d", model.ErrDuplicateReservation, id)
		}
		return false, fmt.Errorf("set reservation status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListActiveReservations возвращает очередь на книгу в порядке обслуживания.
func (r *SQLiteRepository) ListActiveReservations(ctx context.Context, bookID int64) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteReservationColumns+`
		 FROM reservations
		 WHERE book_id = ? AND status IN (?, ?)
		 ORDER BY priority, reservation_date_ns, id`,
		bookID, activeReservationStatuses[0], activeReservationStatuses[1],
	)
	if err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	defer rows.Close()

	var res []model.Reservation
	for rows.Next() {
		item, err := scanSQLiteReservation(rows)
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
func (r *SQLiteRepository) ExpireReservations(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE reservations SET status = ?
		 WHERE status IN (?, ?) AND expiry_date_ns < ?
		 RETURNING id`,
		string(model.ReservationStatusExpired), activeReservationStatuses[0], activeReservationStatuses[1], toNanos(now),
	)
	if err != nil {
		return nil, fmt.Errorf("expire reservations: %w", err)
	}
	defer rows.Close()

	var expired []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired id: %w", err)
		}
		expired = append(expired, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return expired, nil
}

// FulfilReservation отмечает активное бронирование читателя на книгу как исполненное.
func (r *SQLiteRepository) FulfilReservation(ctx context.Context, bookID, memberID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET status = ?
		 WHERE book_id = ? AND member_id = ? AND status IN (?, ?)`,
		string(model.ReservationStatusFulfilled), bookID, memberID,
		activeReservationStatuses[0], activeReservationStatuses[1],
	)
	if err != nil {
		return false, fmt.Errorf("fulfil reservation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
