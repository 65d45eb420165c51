package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/library-circulation/internal/metrics"
	"github.com/mmeshcher/library-circulation/internal/notify"
)

// Sweeper периодически переводит просроченные выдачи в Overdue.
// Корректность штрафов от частоты запуска не зависит: их расчёт при чтении использует то же сравнение сроков.
type Sweeper struct {
	ledger   *Ledger
	queue    *ReservationQueue
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      Clock
}

// Sweep выполняет один проход сверки просрочек.
func (s *Sweeper) Sweep(ctx context.Context) ([]int64, error) {
	return s.ledger.MarkOverdue(ctx)
}

// Run запускает сверку сразу и затем с интервалом interval до отмены контекста.
// На каждом проходе также закрываются бронирования с истёкшим сроком.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	start := time.Now()

	promoted, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("overdue sweep failed", zap.Error(err))
	}

	expired, expErr := s.queue.ExpireStale(ctx)
	if expErr != nil {
		s.logger.Error("reservation expiry failed", zap.Error(expErr))
	}

	if s.metrics != nil {
		s.metrics.OverdueMarked.Add(float64(len(promoted)))
		s.metrics.ReservationsExpired.Add(float64(len(expired)))
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}

	for _, id := range promoted {
		s.notifyOverdue(ctx, id)
	}

	if len(promoted) > 0 || len(expired) > 0 {
		s.logger.Info("sweep finished",
			zap.Int("overdue", len(promoted)),
			zap.Int("expired_reservations", len(expired)),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Sweeper) notifyOverdue(ctx context.Context, loanID int64) {
	if s.notifier == nil {
		return
	}

	loan, err := s.ledger.Get(ctx, loanID)
	if err != nil {
		s.logger.Warn("load overdue loan", zap.Int64("loan_id", loanID), zap.Error(err))
		return
	}

	due := loan.DueDate
	err = s.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventLoanOverdue,
		MemberID:   loan.MemberID,
		Email:      loan.Snapshot.MemberEmail,
		BookID:     loan.BookID,
		BookTitle:  loan.Snapshot.BookTitle,
		LoanID:     loan.ID,
		DueDate:    &due,
		OccurredAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("overdue notification failed", zap.Int64("loan_id", loanID), zap.Error(err))
	}
}
