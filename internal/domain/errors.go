package domain

import "errors"

var (
	// ErrNotFound запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrValidation некорректные входные данные.
	ErrValidation = errors.New("invalid request")
	// ErrUnauthorized нет действующей сессии.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden сессия не принадлежит пользователю.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyExists нарушено ограничение уникальности.
	ErrAlreadyExists = errors.New("already exists")
)

// ErrNotGenerating презентация уже в финальном статусе.
var ErrNotGenerating = errors.New("presentation is not generating")
