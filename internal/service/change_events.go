package service

import (
	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// publishChange hands a committed row to the notifier. Publishing is best effort
// and never fails the write that produced it.
func publishChange(notifier ports.ChangeNotifier, log zerolog.Logger, table string, op domain.Operation, row any) {
	if notifier == nil {
		return
	}
	event, err := domain.NewChangeEvent(table, op, row)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("failed to build change event")
		return
	}
	notifier.Notify(event)
}

func normalizePage(page, pageSize, defaultSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = defaultSize
	}
	return page, pageSize
}
