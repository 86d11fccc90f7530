package audit

import (
	"context"
	"time"
)

// DefaultRetention is how long audit_logs rows are kept before PruneOlderThan
// is eligible to remove them. No multi-tenant compliance floor applies here;
// this is local disk hygiene for a single-operator deployment.
const DefaultRetention = 90 * 24 * time.Hour

// PruneOlderThan deletes audit_logs rows older than the cutoff and returns
// the number of rows removed.
func (s *Service) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
