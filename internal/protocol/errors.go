package protocol

import (
	"errors"

	"villagecraft.ai/internal/economy/ledger"
	"villagecraft.ai/internal/persistence/savefile"
	"villagecraft.ai/internal/persistence/saves"
	"villagecraft.ai/internal/village"
	"villagecraft.ai/internal/village/catalog"
	"villagecraft.ai/internal/village/deletion"
	"villagecraft.ai/internal/village/placement"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Economy and placement.
	ErrInvalidAmount     = "E_INVALID_AMOUNT"
	ErrInsufficientFunds = "E_INSUFFICIENT_FUNDS"
	ErrUnknownCatalog    = "E_UNKNOWN_CATALOG_ENTRY"
	ErrSessionActive     = "E_SESSION_ACTIVE"
	ErrNoSession         = "E_NO_SESSION"
	ErrNotFound          = "E_NOT_FOUND"

	// Persistence.
	ErrCorruptSave  = "E_CORRUPT_SAVE"
	ErrPersistWrite = "E_PERSIST_WRITE"

	ErrBadRequest = "E_BAD_REQUEST"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrInvalidAmount:     {},
	ErrInsufficientFunds: {},
	ErrUnknownCatalog:    {},
	ErrSessionActive:     {},
	ErrNoSession:         {},
	ErrNotFound:          {},
	ErrCorruptSave:       {},
	ErrPersistWrite:      {},
	ErrBadRequest:        {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps a domain error to its wire code. A nil error maps to "".
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrOverflow):
		return ErrInvalidAmount
	case errors.Is(err, village.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, catalog.ErrUnknownEntry):
		return ErrUnknownCatalog
	case errors.Is(err, placement.ErrNonFinite):
		return ErrBadRequest
	case errors.Is(err, placement.ErrSessionActive):
		return ErrSessionActive
	case errors.Is(err, placement.ErrNoActiveSession), errors.Is(err, placement.ErrNotPositioning):
		return ErrNoSession
	case errors.Is(err, deletion.ErrUnknownObject):
		return ErrNotFound
	case errors.Is(err, savefile.ErrCorrupt):
		return ErrCorruptSave
	case errors.Is(err, saves.ErrWriteFailed):
		return ErrPersistWrite
	default:
		return ErrInternal
	}
}
