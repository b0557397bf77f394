// Package archive keeps a verbatim copy of every accepted webhook body in
// object storage. The archive is append-only and exists for audit and replay;
// reconciliation never reads it on the hot path, and archival failures are
// logged rather than failing the delivery.
package archive

import (
	"context"
	"time"
)

// Archiver stores and retrieves raw notification bodies.
type Archiver interface {
	// Archive stores one raw body and returns the URI it was stored under.
	Archive(ctx context.Context, body []byte, receivedAt time.Time) (string, error)

	// Fetch retrieves an archived body by URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)

	// List returns the URIs of all archived bodies under the given date
	// prefix (YYYY/MM/DD, empty for everything). Used by replay tooling.
	List(ctx context.Context, datePrefix string) ([]string, error)
}
