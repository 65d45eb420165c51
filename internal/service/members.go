package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmeshcher/library-circulation/internal/model"
)

// MemberDirectory сопоставляет аккаунты с читателями. Читатели никогда не создаются неявно.
type MemberDirectory struct {
	repo MemberStore
}

// NewMemberDirectory создаёт справочник читателей.
func NewMemberDirectory(repo MemberStore) *MemberDirectory {
	return &MemberDirectory{repo: repo}
}

// Resolve находит читателя аккаунта: сначала по привязке, затем по email.
func (d *MemberDirectory) Resolve(ctx context.Context, acc model.Account) (*model.Member, error) {
	m, err := d.repo.GetMemberByAccount(ctx, acc.ID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	if acc.Email != "" {
		m, err = d.repo.GetMemberByEmail(ctx, acc.Email)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: account %d", model.ErrMemberNotRegistered, acc.ID)
}

// Get возвращает читателя по идентификатору.
func (d *MemberDirectory) Get(ctx context.Context, id int64) (*model.Member, error) {
	return d.repo.GetMember(ctx, id)
}

// Register регистрирует читателя и при необходимости привязывает его к аккаунту.
func (d *MemberDirectory) Register(ctx context.Context, m model.Member) (*model.Member, error) {
	m.Code = strings.TrimSpace(m.Code)
	m.Name = strings.TrimSpace(m.Name)
	m.Email = strings.TrimSpace(m.Email)
	if m.Code == "" || m.Name == "" {
		return nil, fmt.Errorf("%w: member code and name are required", model.ErrInvalidInput)
	}

	id, err := d.repo.CreateMember(ctx, &m)
	if err != nil {
		return nil, err
	}
	m.ID = id
	return &m, nil
}
