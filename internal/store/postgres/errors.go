package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

// classifyPgKind maps a pgx failure onto the error taxonomy so the cold
// path's retry policy can dispatch on kind. Deadlocks, serialization
// failures, connection drops and admin shutdowns are worth retrying;
// constraint and data errors are not.
func classifyPgKind(err error) domain.Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.KindTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization failure, deadlock
			return domain.KindDownstreamTransient
		case strings.HasPrefix(pgErr.Code, "08"): // connection exceptions
			return domain.KindDownstreamTransient
		case strings.HasPrefix(pgErr.Code, "57"): // operator intervention / shutdown
			return domain.KindDownstreamTransient
		case strings.HasPrefix(pgErr.Code, "53"): // insufficient resources
			return domain.KindDownstreamTransient
		}
		return domain.KindDownstreamPermanent
	}

	if pgconn.SafeToRetry(err) {
		return domain.KindDownstreamTransient
	}

	// Raw network errors surface without a PgError.
	return domain.KindDownstreamTransient
}
