package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dossier-ai/internal/domain"
)

// Service управляет пользователями.
type Service struct {
	repo domain.UserRepo
}

// NewService создаёт сервис пользователей.
func NewService(repo domain.UserRepo) *Service {
	return &Service{repo: repo}
}

// Ensure идемпотентно создаёт пользователя. created истинно только для вызова, который вставил запись.
// При гонке двух вставок проигравший получает уже сохранённую запись.
func (s *Service) Ensure(ctx context.Context, id, email string) (domain.User, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.User{}, false, fmt.Errorf("%w: user_id обязателен", domain.ErrValidation)
	}

	existing, err := s.repo.GetUser(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, false, fmt.Errorf("получение пользователя: %w", err)
	}

	user, err := s.repo.InsertUser(ctx, domain.User{ID: id, Email: strings.TrimSpace(email)})
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, domain.ErrAlreadyExists) {
		return domain.User{}, false, fmt.Errorf("создание пользователя: %w", err)
	}

	winner, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("повторное получение пользователя: %w", err)
	}
	return winner, false, nil
}
