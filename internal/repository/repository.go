// Package repository содержит реализации хранилища выдач и бронирований для PostgreSQL и SQLite.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/library-circulation/internal/model"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

var (
	activeLoanStatuses = []string{
		string(model.LoanStatusBorrowed),
		string(model.LoanStatusOverdue),
	}
	activeReservationStatuses = []string{
		string(model.ReservationStatusPending),
		string(model.ReservationStatusApproved),
	}
)

func runMigrations(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// nextPriority возвращает приоритет нового бронирования: следующий за
// наибольшим активным, что совпадает с «число активных + 1», пока в очереди нет пропусков.
func nextPriority(activeCount, maxActivePriority int) int {
	if maxActivePriority > activeCount {
		return maxActivePriority + 1
	}
	return activeCount + 1
}

func statusStrings[S ~string](statuses []S) []string {
	res := make([]string, 0, len(statuses))
	for _, s := range statuses {
		res = append(res, string(s))
	}
	return res
}
