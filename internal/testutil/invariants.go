package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// AssertBatchInvariants checks every batch against the needs pointing at it.
// A pending batch holds only approved members, a rejected batch holds none,
// and pending or approved batches carry totals that match their members.
func AssertBatchInvariants(t *testing.T, db *gorm.DB) {
	t.Helper()

	var rows []struct {
		ID               int64
		Status           string
		CaseCount        int
		TotalSupplyItems int64
		Members          int
		Unapproved       int
		Cases            int
		Requested        int64
	}
	require.NoError(t, db.Raw(`SELECT
			b.id, b.status, b.case_count, b.total_supply_items,
			COUNT(n.id) AS members,
			COALESCE(SUM(CASE WHEN n.status <> 'approved' THEN 1 ELSE 0 END), 0) AS unapproved,
			COUNT(DISTINCT n.case_id) AS cases,
			COALESCE(SUM(n.requested_quantity), 0) AS requested
		FROM distribution_batches b
		LEFT JOIN needs n ON n.batch_id = b.id
		GROUP BY b.id, b.status, b.case_count, b.total_supply_items`).Scan(&rows).Error)

	for _, row := range rows {
		switch row.Status {
		case "pending":
			assert.Zero(t, row.Unapproved, "pending batch %d has members that are not approved", row.ID)
		case "rejected":
			assert.Zero(t, row.Members, "rejected batch %d still has members", row.ID)
		}
		if row.Status == "pending" || row.Status == "approved" {
			assert.Equal(t, row.Cases, row.CaseCount, "batch %d case_count", row.ID)
			assert.Equal(t, row.Requested, row.TotalSupplyItems, "batch %d total_supply_items", row.ID)
		}
	}
}
