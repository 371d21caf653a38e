package xe

import "github.com/go-orz/orz"

var (
	ErrInvalidParams     = orz.NewError(10400, "invalid parameters")
	ErrPortfolioNotFound = orz.NewError(10404, "portfolio not found")

	ErrSessionRunning = orz.NewError(10002, "a session is already running for this portfolio")
	ErrMemoryStore    = orz.NewError(10003, "conversation memory store unavailable")
)
