package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanko-field/checkout/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time
}

// NewCounterService constructs a service that formats counter sequences from the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &counterService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// NextOrderNumber returns ORD-<year>-<seq> where the sequence restarts every year.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	now := s.clock()
	value, err := s.repo.Next(ctx, fmt.Sprintf("orders:%04d", now.Year()), 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
			return "", fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		}
		return "", err
	}
	return fmt.Sprintf("ORD-%04d-%06d", now.Year(), value), nil
}
