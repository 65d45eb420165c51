package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/library-circulation/internal/model"
)

// Inventory ведёт учёт общего и свободного числа экземпляров книги.
type Inventory struct {
	repo InventoryStore
}

// NewInventory создаёт счётчик остатков.
func NewInventory(repo InventoryStore) *Inventory {
	return &Inventory{repo: repo}
}

// Get возвращает книгу с текущими остатками.
func (i *Inventory) Get(ctx context.Context, bookID int64) (*model.Book, error) {
	return i.repo.GetBook(ctx, bookID)
}

// Decrement забирает свободный экземпляр. Проверка и уменьшение выполняются хранилищем атомарно.
func (i *Inventory) Decrement(ctx context.Context, bookID int64) error {
	return i.repo.DecrementAvailable(ctx, bookID)
}

// Increment возвращает экземпляр; никогда не превышает общего числа экземпляров.
func (i *Inventory) Increment(ctx context.Context, bookID int64) error {
	return i.repo.IncrementAvailable(ctx, bookID)
}

// Add добавляет книгу в каталог со всеми экземплярами на полке.
func (i *Inventory) Add(ctx context.Context, b model.Book) (*model.Book, error) {
	if b.Code == "" || b.Title == "" {
		return nil, fmt.Errorf("%w: code and title are required", model.ErrInvalidInput)
	}
	if b.TotalCopies < 1 {
		return nil, fmt.Errorf("%w: total copies must be at least 1", model.ErrInvalidInput)
	}
	b.AvailableCopies = b.TotalCopies

	id, err := i.repo.CreateBook(ctx, &b)
	if err != nil {
		return nil, err
	}
	b.ID = id
	return &b, nil
}

// Correct выполняет ручную корректировку остатков библиотекарем.
func (i *Inventory) Correct(ctx context.Context, bookID int64, total, available int) (*model.Book, error) {
	if total < 1 || available < 0 || available > total {
		return nil, fmt.Errorf("%w: copies %d/%d", model.ErrInvalidInput, available, total)
	}
	if err := i.repo.SetCopies(ctx, bookID, total, available); err != nil {
		return nil, err
	}
	return i.repo.GetBook(ctx, bookID)
}
