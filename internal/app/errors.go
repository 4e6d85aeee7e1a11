package service

import (
	"errors"

	"github.com/okian/contestboard/internal/adapters/mq/queue"
	"github.com/okian/contestboard/internal/adapters/repository"
	"github.com/okian/contestboard/internal/domain/model"
)

// Sentinel kinds returned by the service.
var (
	// ErrServiceUnavailable means the durable store could not serve a read.
	ErrServiceUnavailable = errors.New("leaderboard service unavailable")
	// ErrNotStarted is returned by Enqueue before Start or after Stop.
	ErrNotStarted = errors.New("leaderboard service not started")

	ErrInvalidEvent = model.ErrInvalidEvent
	ErrInvalidLimit = repository.ErrInvalidLimit
	ErrNotFound     = repository.ErrNotFound
	ErrBackpressure = queue.ErrQueueFull
)
