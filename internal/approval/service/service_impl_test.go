package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/needflow/internal/approval/domain"
	auditrepository "github.com/smallbiznis/needflow/internal/audit/repository"
	auditservice "github.com/smallbiznis/needflow/internal/audit/service"
	"github.com/smallbiznis/needflow/internal/authorization"
	"github.com/smallbiznis/needflow/internal/clock"
	distributiondomain "github.com/smallbiznis/needflow/internal/distribution/domain"
	distributionrepository "github.com/smallbiznis/needflow/internal/distribution/repository"
	needdomain "github.com/smallbiznis/needflow/internal/need/domain"
	needrepository "github.com/smallbiznis/needflow/internal/need/repository"
	"github.com/smallbiznis/needflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	worker     = authorization.Actor{WorkerID: 1, Role: authorization.RoleWorker}
	staff      = authorization.Actor{WorkerID: 2, Role: authorization.RoleStaff}
	supervisor = authorization.Actor{WorkerID: 3, Role: authorization.RoleSupervisor}
	admin      = authorization.Actor{WorkerID: 4, Role: authorization.RoleAdmin}
)

type fixture struct {
	db        *gorm.DB
	svc       domain.Service
	needRepo  needdomain.Repository
	batchRepo distributiondomain.Repository
	node      *snowflake.Node
	clock     *clock.FakeClock
	tamper    *testutil.RowTamperer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.NewNode(t)
	fake := clock.NewFakeClock(testutil.Epoch)
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepository.Provide(),
		Clock: fake,
	})

	enforcer, err := authorization.NewEnforcer(nil, nil)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, AuditSvc: audit})

	needRepo := needrepository.Provide()
	batchRepo := distributionrepository.Provide()
	svc := NewService(Params{
		DB:        db,
		Log:       log,
		NeedRepo:  needRepo,
		BatchRepo: batchRepo,
		Authz:     authz,
		AuditSvc:  audit,
		Clock:     fake,
	})
	return fixture{
		db:        db,
		svc:       svc,
		needRepo:  needRepo,
		batchRepo: batchRepo,
		node:      node,
		clock:     fake,
		tamper:    testutil.NewRowTamperer(db),
	}
}

func (f fixture) insertNeed(t *testing.T, kind needdomain.Kind, status needdomain.Status) needdomain.Need {
	t.Helper()
	return f.insertNeedFor(t, kind, status, 500, 2)
}

func (f fixture) insertNeedFor(t *testing.T, kind needdomain.Kind, status needdomain.Status, caseID snowflake.ID, quantity int64) needdomain.Need {
	t.Helper()
	need := needdomain.Need{
		ID:                f.node.Generate(),
		Kind:              kind,
		CaseID:            caseID,
		WorkerID:          worker.WorkerID,
		ItemName:          "Milk powder",
		RequestedQuantity: quantity,
		Status:            status,
		Version:           1,
		CreatedAt:         f.clock.Now(),
		UpdatedAt:         f.clock.Now(),
	}
	if kind == needdomain.KindRegular {
		itemID := snowflake.ID(900)
		need.SupplyItemID = &itemID
	}
	require.NoError(t, f.needRepo.Insert(context.Background(), f.db, &need))
	return need
}

func (f fixture) insertBatch(t *testing.T, status distributiondomain.BatchStatus) distributiondomain.Batch {
	t.Helper()
	return f.insertBatchOf(t, status)
}

// insertBatchOf stores a batch that already holds members, with totals
// computed from them.
func (f fixture) insertBatchOf(t *testing.T, status distributiondomain.BatchStatus, members ...needdomain.Need) distributiondomain.Batch {
	t.Helper()
	ctx := context.Background()
	batch := distributiondomain.Batch{
		ID:                f.node.Generate(),
		DistributionDate:  testutil.Epoch.Add(72 * time.Hour),
		CreatedByWorkerID: staff.WorkerID,
		Status:            status,
		Version:           1,
		CreatedAt:         f.clock.Now(),
		UpdatedAt:         f.clock.Now(),
	}
	cases := map[snowflake.ID]struct{}{}
	for _, member := range members {
		cases[member.CaseID] = struct{}{}
		batch.TotalSupplyItems += member.RequestedQuantity
	}
	batch.CaseCount = len(cases)
	require.NoError(t, f.batchRepo.Insert(ctx, f.db, &batch))

	for _, member := range members {
		require.NoError(t, f.tamper.SetNeedBatch(ctx, member.ID, &batch.ID))
	}
	return batch
}

func (f fixture) reload(t *testing.T, id snowflake.ID) needdomain.Need {
	t.Helper()
	need, err := f.needRepo.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, need)
	return *need
}

func (f fixture) auditCount(t *testing.T, action string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM audit_logs WHERE action = ?`, action).Scan(&count).Error)
	return count
}

func TestRegularNeedFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	need := f.insertNeed(t, needdomain.KindRegular, needdomain.StatusPending)

	confirmed, err := f.svc.Transition(ctx, need.ID, domain.ActionConfirm, staff)
	require.NoError(t, err)
	assert.Equal(t, needdomain.StatusPendingSuper, confirmed.Status)

	approved, err := f.svc.Transition(ctx, need.ID, domain.ActionApprove, supervisor)
	require.NoError(t, err)
	assert.Equal(t, needdomain.StatusApproved, approved.Status)

	f.clock.Advance(2 * time.Hour)
	collected, err := f.svc.Transition(ctx, need.ID, domain.ActionCollect, staff)
	require.NoError(t, err)
	assert.Equal(t, needdomain.StatusCollected, collected.Status)
	require.NotNil(t, collected.PickupDate)
	assert.True(t, collected.PickupDate.Equal(testutil.Epoch.Add(2*time.Hour)))
	assert.Nil(t, collected.BatchID)

	stored := f.reload(t, need.ID)
	assert.Equal(t, needdomain.StatusCollected, stored.Status)
	assert.Equal(t, int64(4), stored.Version)

	assert.Equal(t, int64(1), f.auditCount(t, "need.confirm"))
	assert.Equal(t, int64(1), f.auditCount(t, "need.approve"))
	assert.Equal(t, int64(1), f.auditCount(t, "need.collect"))
}

func TestEmergencyNeedSkipsConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	need := f.insertNeed(t, needdomain.KindEmergency, needdomain.StatusPending)

	_, err := f.svc.Transition(ctx, need.ID, domain.ActionConfirm, staff)
	assert.ErrorIs(t, err, needdomain.ErrIllegalTransition)

	approved, err := f.svc.Transition(ctx, need.ID, domain.ActionApprove, staff)
	require.NoError(t, err)
	assert.Equal(t, needdomain.StatusApproved, approved.Status)
}

func TestTransitionEnforcesRoleLadder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	need := f.insertNeed(t, needdomain.KindRegular, needdomain.StatusPending)

	_, err := f.svc.Transition(ctx, need.ID, domain.ActionConfirm, worker)
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	assert.Equal(t, needdomain.StatusPending, f.reload(t, need.ID).Status)

	_, err = f.svc.Transition(ctx, need.ID, domain.ActionConfirm, admin)
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, need.ID, domain.ActionApprove, staff)
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	assert.Equal(t, needdomain.StatusPendingSuper, f.reload(t, need.ID).Status)
	assert.Equal(t, int64(2), f.auditCount(t, "authorization.denied"))
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rejected := f.insertNeed(t, needdomain.KindRegular, needdomain.StatusRejected)
	_, err := f.svc.Transition(ctx, rejected.ID, domain.ActionApprove, admin)
	assert.ErrorIs(t, err, needdomain.ErrIllegalTransition)

	pending := f.insertNeed(t, needdomain.KindRegular, needdomain.StatusPending)
	_, err = f.svc.Transition(ctx, pending.ID, domain.ActionCollect, admin)
	assert.ErrorIs(t, err, needdomain.ErrIllegalTransition)

	collected := f.insertNeed(t, needdomain.KindEmergency, needdomain.StatusCollected)
	_, err = f.svc.Transition(ctx, collected.ID, domain.ActionReject, admin)
	assert.ErrorIs(t, err, needdomain.ErrIllegalTransition)

	_, err = f.svc.Transition(ctx, pending.ID, "escalate", admin)
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	_, err = f.svc.Transition(ctx, 31337, domain.ActionConfirm, admin)
	assert.ErrorIs(t, err, needdomain.ErrNeedNotFound)

	_, err = f.svc.Transition(ctx, pending.ID, domain.ActionConfirm, authorization.Actor{Role: authorization.RoleAdmin})
	assert.ErrorIs(t, err, authorization.ErrInvalidActor)
}

func TestRepeatedActionIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	need := f.insertNeed(t, needdomain.KindRegular, needdomain.StatusApproved)

	again, err := f.svc.Transition(ctx, need.ID, domain.ActionApprove, supervisor)
	require.NoError(t, err)
	assert.Equal(t, needdomain.StatusApproved, again.Status)
	assert.Equal(t, int64(1), f.reload(t, need.ID).Version)
	assert.Zero(t, f.auditCount(t, "need.approve"))

	_, err = f.svc.Transition(ctx, need.ID, domain.ActionApprove, staff)
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	rejected := f.insertNeed(t, needdomain.KindEmergency, needdomain.StatusRejected)
	again, err = f.svc.Transition(ctx, rejected.ID, domain.ActionReject, staff)
	require.NoError(t, err)
	assert.Equal(t, needdomain.StatusRejected, again.Status)
}

func TestConfirmedIsTreatedAsPendingSupervisor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	need := f.insertNeed(t, needdomain.KindRegular, needdomain.StatusConfirmed)

	replayed, err := f.svc.Transition(ctx, need.ID, domain.ActionConfirm, staff)
	require.NoError(t, err)
	assert.Equal(t, needdomain.StatusConfirmed, replayed.Status)

	approved, err := f.svc.Transition(ctx, need.ID, domain.ActionApprove, supervisor)
	require.NoError(t, err)
	assert.Equal(t, needdomain.StatusApproved, approved.Status)
}

func TestCollectRefusesGroupedNeedWithoutBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := f.insertBatch(t, distributiondomain.BatchStatusPending)
	need := f.insertNeed(t, needdomain.KindRegular, needdomain.StatusApproved)
	require.NoError(t, f.tamper.SetNeedBatch(ctx, need.ID, &batch.ID))

	_, err := f.svc.Collect(ctx, domain.CollectRequest{NeedID: need.ID, Actor: staff})
	require.ErrorIs(t, err, distributiondomain.ErrNeedNotEligible)

	var ineligible *distributiondomain.NeedNotEligibleError
	require.ErrorAs(t, err, &ineligible)
	assert.Equal(t, distributiondomain.ReasonAlreadyBatched, ineligible.Reasons[need.ID])
	assert.Equal(t, needdomain.StatusApproved, f.reload(t, need.ID).Status)
}

func TestCollectWithinBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := f.insertBatch(t, distributiondomain.BatchStatusApproved)
	need := f.insertNeed(t, needdomain.KindRegular, needdomain.StatusApproved)
	require.NoError(t, f.tamper.SetNeedBatch(ctx, need.ID, &batch.ID))

	collected, err := f.svc.Collect(ctx, domain.CollectRequest{NeedID: need.ID, BatchID: &batch.ID, Actor: staff})
	require.NoError(t, err)
	assert.Equal(t, needdomain.StatusCollected, collected.Status)
	require.NotNil(t, collected.BatchID)
	assert.Equal(t, batch.ID, *collected.BatchID)

	again, err := f.svc.Collect(ctx, domain.CollectRequest{NeedID: need.ID, BatchID: &batch.ID, Actor: staff})
	require.NoError(t, err)
	assert.Equal(t, collected.Version, again.Version)
}

func TestCollectBatchChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.insertBatch(t, distributiondomain.BatchStatusApproved)
	other := f.insertBatch(t, distributiondomain.BatchStatusApproved)
	closed := f.insertBatch(t, distributiondomain.BatchStatusCompleted)

	member := f.insertNeed(t, needdomain.KindRegular, needdomain.StatusApproved)
	require.NoError(t, f.tamper.SetNeedBatch(ctx, member.ID, &open.ID))
	emergency := f.insertNeed(t, needdomain.KindEmergency, needdomain.StatusApproved)

	reasonOf := func(err error, id snowflake.ID) string {
		var ineligible *distributiondomain.NeedNotEligibleError
		require.ErrorAs(t, err, &ineligible)
		return ineligible.Reasons[id]
	}

	missing := snowflake.ID(77)
	_, err := f.svc.Collect(ctx, domain.CollectRequest{NeedID: member.ID, BatchID: &missing, Actor: staff})
	assert.ErrorIs(t, err, distributiondomain.ErrBatchNotFound)

	_, err = f.svc.Collect(ctx, domain.CollectRequest{NeedID: member.ID, BatchID: &closed.ID, Actor: staff})
	assert.Equal(t, distributiondomain.ReasonBatchTerminal, reasonOf(err, member.ID))

	_, err = f.svc.Collect(ctx, domain.CollectRequest{NeedID: member.ID, BatchID: &other.ID, Actor: staff})
	assert.Equal(t, distributiondomain.ReasonOtherBatch, reasonOf(err, member.ID))

	_, err = f.svc.Collect(ctx, domain.CollectRequest{NeedID: emergency.ID, BatchID: &open.ID, Actor: staff})
	assert.Equal(t, distributiondomain.ReasonNotRegular, reasonOf(err, emergency.ID))

	_, err = f.svc.Collect(ctx, domain.CollectRequest{NeedID: member.ID, BatchID: &open.ID, Actor: worker})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	assert.Equal(t, int64(1), f.auditCount(t, "authorization.denied"))

	assert.Equal(t, needdomain.StatusApproved, f.reload(t, member.ID).Status)
	assert.Zero(t, f.auditCount(t, "need.collect"))
}

func TestCollectRefusesPendingBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.insertNeed(t, needdomain.KindRegular, needdomain.StatusApproved)
	outsider := f.insertNeed(t, needdomain.KindRegular, needdomain.StatusApproved)
	batch := f.insertBatchOf(t, distributiondomain.BatchStatusPending, member)
	testutil.AssertBatchInvariants(t, f.db)

	for _, id := range []snowflake.ID{member.ID, outsider.ID} {
		_, err := f.svc.Collect(ctx, domain.CollectRequest{NeedID: id, BatchID: &batch.ID, Actor: supervisor})
		var ineligible *distributiondomain.NeedNotEligibleError
		require.ErrorAs(t, err, &ineligible)
		assert.Equal(t, distributiondomain.ReasonBatchPending, ineligible.Reasons[id])
		testutil.AssertBatchInvariants(t, f.db)
	}

	assert.Equal(t, needdomain.StatusApproved, f.reload(t, member.ID).Status)
	assert.Equal(t, needdomain.StatusApproved, f.reload(t, outsider.ID).Status)
	assert.Nil(t, f.reload(t, outsider.ID).BatchID)
	assert.Zero(t, f.auditCount(t, "need.collect"))
}

func TestCollectIntoApprovedBatchRefreshesTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.insertNeedFor(t, needdomain.KindRegular, needdomain.StatusCollected, 100, 2)
	batch := f.insertBatchOf(t, distributiondomain.BatchStatusApproved, member)
	joiner := f.insertNeedFor(t, needdomain.KindRegular, needdomain.StatusApproved, 200, 3)

	collected, err := f.svc.Collect(ctx, domain.CollectRequest{NeedID: joiner.ID, BatchID: &batch.ID, Actor: staff})
	require.NoError(t, err)
	assert.Equal(t, needdomain.StatusCollected, collected.Status)
	require.NotNil(t, collected.BatchID)
	assert.Equal(t, batch.ID, *collected.BatchID)

	stored, err := f.batchRepo.FindByID(ctx, f.db, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2, stored.CaseCount)
	assert.Equal(t, int64(5), stored.TotalSupplyItems)
	assert.Equal(t, batch.Version+1, stored.Version)
	assert.Equal(t, distributiondomain.BatchStatusApproved, stored.Status)
	testutil.AssertBatchInvariants(t, f.db)
	assert.Equal(t, int64(1), f.auditCount(t, "need.collect"))

	_, err = f.svc.Collect(ctx, domain.CollectRequest{NeedID: joiner.ID, BatchID: &batch.ID, Actor: staff})
	require.NoError(t, err)
	again, err := f.batchRepo.FindByID(ctx, f.db, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Version, again.Version)
	assert.Equal(t, int64(1), f.auditCount(t, "need.collect"))
}

func TestTransitionRollsBackWhenAuditFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	need := f.insertNeed(t, needdomain.KindEmergency, needdomain.StatusPending)
	require.NoError(t, f.db.Exec(`DROP TABLE audit_logs`).Error)

	_, err := f.svc.Transition(ctx, need.ID, domain.ActionApprove, staff)
	require.Error(t, err)

	stored := f.reload(t, need.ID)
	assert.Equal(t, needdomain.StatusPending, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestApplyCollectRequiresApprovedNeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	need := f.insertNeed(t, needdomain.KindRegular, needdomain.StatusPendingSuper)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		locked, err := f.needRepo.FindByIDForUpdate(ctx, tx, need.ID)
		require.NoError(t, err)
		return f.svc.ApplyCollect(ctx, tx, locked, nil, testutil.Epoch)
	})
	assert.ErrorIs(t, err, needdomain.ErrIllegalTransition)

	assert.ErrorIs(t, f.svc.ApplyCollect(ctx, f.db, nil, nil, testutil.Epoch), needdomain.ErrNeedNotFound)
}

func TestStaleVersionIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	need := f.insertNeed(t, needdomain.KindEmergency, needdomain.StatusApproved)

	stale := need
	require.NoError(t, f.tamper.SetNeedStatus(ctx, need.ID, string(needdomain.StatusApproved)))

	err := f.svc.ApplyCollect(ctx, f.db, &stale, nil, testutil.Epoch)
	assert.ErrorIs(t, err, needdomain.ErrConcurrentModification)
	assert.Equal(t, needdomain.StatusApproved, f.reload(t, need.ID).Status)
}
