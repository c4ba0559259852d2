package service

import (
	"errors"

	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

var (
	ErrInvalidIdentifier   = ident.ErrInvalidIdentifier
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidCursor       = errors.New("invalid history cursor")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrLedgerContention    = errors.New("ledger contention: retries exhausted")
)
