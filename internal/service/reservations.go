package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/library-circulation/internal/model"
)

// casAttempts ограничивает число повторов смены статуса при конкурентных изменениях.
const casAttempts = 3

// ReservationQueue ведёт очереди бронирований на книги без свободных экземпляров.
type ReservationQueue struct {
	repo   ReservationStore
	policy Policy
	now    Clock
}

// NewReservationQueue создаёт очередь бронирований.
func NewReservationQueue(repo ReservationStore, policy Policy, now Clock) *ReservationQueue {
	if now == nil {
		now = systemClock
	}
	return &ReservationQueue{repo: repo, policy: policy, now: now}
}

// Create ставит читателя в очередь. Бронирование возможно, только когда свободных экземпляров нет;
// приоритет назначается хранилищем под блокировкой книги.
func (q *ReservationQueue) Create(ctx context.Context, bookID, memberID, accountID int64, note string) (*model.Reservation, error) {
	now := q.now()
	return q.repo.InsertReservation(ctx, &model.Reservation{
		BookID:          bookID,
		MemberID:        memberID,
		AccountID:       accountID,
		ReservationDate: now,
		ExpiryDate:      now.Add(q.policy.ReservationHold),
		Status:          model.ReservationStatusPending,
		Note:            note,
	})
}

// Get возвращает бронирование.
func (q *ReservationQueue) Get(ctx context.Context, id int64) (*model.Reservation, error) {
	return q.repo.GetReservation(ctx, id)
}

// Cancel отменяет бронирование по запросу создавшего его аккаунта.
func (q *ReservationQueue) Cancel(ctx context.Context, id, accountID int64) (*model.Reservation, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		res, err := q.repo.GetReservation(ctx, id)
		if err != nil {
			return nil, err
		}
		if res.AccountID != accountID {
			return nil, fmt.Errorf("%w: reservation %d belongs to another account", model.ErrForbidden, id)
		}
		if err := closedError(res, model.ReservationStatusCancelled); err != nil {
			return nil, err
		}

		ok, err := q.repo.SetReservationStatus(ctx, id, res.Status, model.ReservationStatusCancelled)
		if err != nil {
			return nil, err
		}
		if ok {
			res.Status = model.ReservationStatusCancelled
			return res, nil
		}
	}
	return nil, fmt.Errorf("cancel reservation %d: status keeps changing", id)
}

// UpdateStatus меняет статус по решению библиотекаря. Переходы между активными статусами
// и в любой завершающий разрешены; из завершающих статусов выхода нет.
func (q *ReservationQueue) UpdateStatus(ctx context.Context, id int64, status model.ReservationStatus) (*model.Reservation, error) {
	if !status.Valid() || status == model.ReservationStatusPending {
		return nil, fmt.Errorf("%w: status %q", model.ErrInvalidInput, status)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		res, err := q.repo.GetReservation(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := closedError(res, status); err != nil {
			return nil, err
		}

		ok, err := q.repo.SetReservationStatus(ctx, id, res.Status, status)
		if err != nil {
			return nil, err
		}
		if ok {
			res.Status = status
			return res, nil
		}
	}
	return nil, fmt.Errorf("update reservation %d: status keeps changing", id)
}

func closedError(res *model.Reservation, target model.ReservationStatus) error {
	switch {
	case res.Status == model.ReservationStatusCancelled && target == model.ReservationStatusCancelled:
		return fmt.Errorf("%w: reservation %d", model.ErrAlreadyCancelled, res.ID)
	case res.Status.Terminal():
		return fmt.Errorf("%w: reservation %d is %s", model.ErrReservationClosed, res.ID, res.Status)
	}
	return nil
}

// ListActive возвращает очередь на книгу: по приоритету, затем по времени создания.
func (q *ReservationQueue) ListActive(ctx context.Context, bookID int64) ([]model.Reservation, error) {
	return q.repo.ListActiveReservations(ctx, bookID)
}

// NextInLine возвращает первое непросроченное бронирование в очереди или nil.
func (q *ReservationQueue) NextInLine(ctx context.Context, bookID int64) (*model.Reservation, error) {
	queue, err := q.repo.ListActiveReservations(ctx, bookID)
	if err != nil {
		return nil, err
	}

	now := q.now()
	for i := range queue {
		if !now.After(queue[i].ExpiryDate) {
			return &queue[i], nil
		}
	}
	return nil, nil
}

// ExpireStale закрывает бронирования, срок которых истёк.
func (q *ReservationQueue) ExpireStale(ctx context.Context) ([]int64, error) {
	return q.repo.ExpireReservations(ctx, q.now())
}

// FulfilForLoan закрывает бронирование читателя, получившего книгу.
func (q *ReservationQueue) FulfilForLoan(ctx context.Context, bookID, memberID int64) (bool, error) {
	return q.repo.FulfilReservation(ctx, bookID, memberID)
}
