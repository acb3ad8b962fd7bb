package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/needflow/internal/authorization"
	catalogdomain "github.com/smallbiznis/needflow/internal/catalog/domain"
	"github.com/smallbiznis/needflow/internal/catalog/mocks"
	"github.com/smallbiznis/needflow/internal/clock"
	"github.com/smallbiznis/needflow/internal/need/domain"
	"github.com/smallbiznis/needflow/internal/need/repository"
	"github.com/smallbiznis/needflow/internal/testutil"
	"github.com/smallbiznis/needflow/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var worker = authorization.Actor{WorkerID: 42, Role: authorization.RoleWorker}

type fixture struct {
	svc     domain.Service
	catalog *mocks.MockLookup
	clock   *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockLookup(ctrl)
	fake := clock.NewFakeClock(testutil.Epoch)

	svc := NewService(Params{
		DB:      testutil.OpenDB(t),
		Log:     zap.NewNop(),
		GenID:   testutil.NewNode(t),
		Repo:    repository.Provide(),
		Catalog: lookup,
		Clock:   fake,
	})
	return fixture{svc: svc, catalog: lookup, clock: fake}
}

func TestCreateRegularNeedCopiesCatalogName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	itemID := snowflake.ID(700)
	f.catalog.EXPECT().Lookup(gomock.Any(), itemID).Return(catalogdomain.SupplyItem{
		ID:     itemID,
		Name:   "Rice 5kg",
		Unit:   "bag",
		Active: true,
	}, nil)

	need, err := f.svc.Create(ctx, domain.CreateNeedRequest{
		CaseID:       10,
		Actor:        worker,
		Kind:         domain.KindRegular,
		SupplyItemID: itemID,
		Quantity:     3,
		Note:         "  for the twins  ",
	})
	require.NoError(t, err)

	assert.NotZero(t, need.ID)
	assert.Equal(t, domain.StatusPending, need.Status)
	assert.Equal(t, "Rice 5kg", need.ItemName)
	require.NotNil(t, need.SupplyItemID)
	assert.Equal(t, itemID, *need.SupplyItemID)
	assert.Nil(t, need.Priority)
	assert.Nil(t, need.BatchID)
	assert.Equal(t, int64(0), need.CollectedQuantity)
	assert.False(t, need.Matched())
	require.NotNil(t, need.Note)
	assert.Equal(t, "for the twins", *need.Note)
	assert.Equal(t, worker.WorkerID, need.WorkerID)
	assert.True(t, need.CreatedAt.Equal(testutil.Epoch))

	stored, err := f.svc.Get(ctx, need.ID)
	require.NoError(t, err)
	assert.Equal(t, need.ItemName, stored.ItemName)
	assert.Equal(t, int64(1), stored.Version)
}

func TestCreateRegularNeedRejectsUnknownOrInactiveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.catalog.EXPECT().Lookup(gomock.Any(), snowflake.ID(1)).Return(catalogdomain.SupplyItem{}, catalogdomain.ErrSupplyItemNotFound)
	f.catalog.EXPECT().Lookup(gomock.Any(), snowflake.ID(2)).Return(catalogdomain.SupplyItem{ID: 2, Name: "Old soap"}, nil)

	_, err := f.svc.Create(ctx, domain.CreateNeedRequest{CaseID: 10, Actor: worker, Kind: domain.KindRegular, SupplyItemID: 1, Quantity: 1})
	assert.ErrorIs(t, err, catalogdomain.ErrSupplyItemNotFound)

	_, err = f.svc.Create(ctx, domain.CreateNeedRequest{CaseID: 10, Actor: worker, Kind: domain.KindRegular, SupplyItemID: 2, Quantity: 1})
	assert.ErrorIs(t, err, catalogdomain.ErrSupplyItemNotFound)
}

func TestCreateRegularNeedPropagatesCatalogFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("catalog down")
	f.catalog.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(catalogdomain.SupplyItem{}, boom)

	_, err := f.svc.Create(context.Background(), domain.CreateNeedRequest{CaseID: 10, Actor: worker, Kind: domain.KindRegular, SupplyItemID: 9, Quantity: 1})
	assert.ErrorIs(t, err, boom)
}

func TestCreateEmergencyNeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	need, err := f.svc.Create(ctx, domain.CreateNeedRequest{
		CaseID:   11,
		Actor:    worker,
		Kind:     "Emergency",
		ItemName: " Insulin ",
		Quantity: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.KindEmergency, need.Kind)
	assert.Equal(t, "Insulin", need.ItemName)
	assert.Nil(t, need.SupplyItemID)
	require.NotNil(t, need.Priority)
	assert.Equal(t, domain.PriorityMedium, *need.Priority)

	critical, err := f.svc.Create(ctx, domain.CreateNeedRequest{
		CaseID:   11,
		Actor:    worker,
		Kind:     domain.KindEmergency,
		ItemName: "Blankets",
		Quantity: 4,
		Priority: "CRITICAL",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityCritical, *critical.Priority)
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.CreateNeedRequest
		want error
	}{
		{"zero quantity", domain.CreateNeedRequest{CaseID: 1, Actor: worker, Kind: domain.KindEmergency, ItemName: "x", Quantity: 0}, domain.ErrInvalidQuantity},
		{"negative quantity", domain.CreateNeedRequest{CaseID: 1, Actor: worker, Kind: domain.KindEmergency, ItemName: "x", Quantity: -3}, domain.ErrInvalidQuantity},
		{"missing case", domain.CreateNeedRequest{Actor: worker, Kind: domain.KindEmergency, ItemName: "x", Quantity: 1}, domain.ErrInvalidCase},
		{"missing actor", domain.CreateNeedRequest{CaseID: 1, Kind: domain.KindEmergency, ItemName: "x", Quantity: 1}, authorization.ErrInvalidActor},
		{"unknown kind", domain.CreateNeedRequest{CaseID: 1, Actor: worker, Kind: "urgent", ItemName: "x", Quantity: 1}, domain.ErrInvalidKind},
		{"emergency without name", domain.CreateNeedRequest{CaseID: 1, Actor: worker, Kind: domain.KindEmergency, ItemName: "  ", Quantity: 1}, domain.ErrInvalidItemName},
		{"bad priority", domain.CreateNeedRequest{CaseID: 1, Actor: worker, Kind: domain.KindEmergency, ItemName: "x", Quantity: 1, Priority: "asap"}, domain.ErrInvalidPriority},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGetUnknownNeed(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(context.Background(), 12345)
	assert.ErrorIs(t, err, domain.ErrNeedNotFound)

	_, err = f.svc.Get(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrNeedNotFound)
}

func seedEmergencyNeeds(t *testing.T, f fixture, caseID snowflake.ID, n int) []domain.Need {
	t.Helper()
	out := make([]domain.Need, 0, n)
	for i := 0; i < n; i++ {
		need, err := f.svc.Create(context.Background(), domain.CreateNeedRequest{
			CaseID:   caseID,
			Actor:    worker,
			Kind:     domain.KindEmergency,
			ItemName: "Water",
			Quantity: int64(i + 1),
		})
		require.NoError(t, err)
		out = append(out, need)
		f.clock.Advance(time.Minute)
	}
	return out
}

func TestListPaginatesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := seedEmergencyNeeds(t, f, 20, 5)

	first, err := f.svc.List(ctx, domain.ListNeedRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Needs, 2)
	assert.True(t, first.HasMore)
	assert.NotEmpty(t, first.NextPageToken)
	assert.Equal(t, created[4].ID, first.Needs[0].ID)
	assert.Equal(t, created[3].ID, first.Needs[1].ID)

	second, err := f.svc.List(ctx, domain.ListNeedRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.Needs, 2)
	assert.Equal(t, created[2].ID, second.Needs[0].ID)

	third, err := f.svc.List(ctx, domain.ListNeedRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: second.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, third.Needs, 1)
	assert.False(t, third.HasMore)
	assert.Empty(t, third.NextPageToken)
	assert.Equal(t, created[0].ID, third.Needs[0].ID)
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedEmergencyNeeds(t, f, 20, 2)
	other := seedEmergencyNeeds(t, f, 30, 1)

	caseID := snowflake.ID(30)
	resp, err := f.svc.List(ctx, domain.ListNeedRequest{NeedFilter: domain.NeedFilter{CaseID: &caseID}})
	require.NoError(t, err)
	require.Len(t, resp.Needs, 1)
	assert.Equal(t, other[0].ID, resp.Needs[0].ID)

	resp, err = f.svc.List(ctx, domain.ListNeedRequest{NeedFilter: domain.NeedFilter{Kind: domain.KindRegular}})
	require.NoError(t, err)
	assert.Empty(t, resp.Needs)

	resp, err = f.svc.List(ctx, domain.ListNeedRequest{NeedFilter: domain.NeedFilter{Status: "PENDING"}})
	require.NoError(t, err)
	assert.Len(t, resp.Needs, 3)
}

func TestListRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.List(ctx, domain.ListNeedRequest{Pagination: pagination.Pagination{PageToken: "not-a-token"}})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)

	_, err = f.svc.List(ctx, domain.ListNeedRequest{NeedFilter: domain.NeedFilter{Status: "lost"}})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	from := testutil.Epoch
	to := from.Add(-time.Hour)
	_, err = f.svc.List(ctx, domain.ListNeedRequest{NeedFilter: domain.NeedFilter{CreatedFrom: &from, CreatedTo: &to}})
	assert.ErrorIs(t, err, domain.ErrInvalidTimeRange)
}

func TestAllWalksEveryPage(t *testing.T) {
	f := newFixture(t)
	created := seedEmergencyNeeds(t, f, 20, 3)

	var seen []snowflake.ID
	for need, err := range f.svc.All(context.Background(), domain.NeedFilter{}) {
		require.NoError(t, err)
		seen = append(seen, need.ID)
	}
	assert.Equal(t, []snowflake.ID{created[2].ID, created[1].ID, created[0].ID}, seen)

	count := 0
	for range f.svc.All(context.Background(), domain.NeedFilter{}) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestAllYieldsFilterError(t *testing.T) {
	f := newFixture(t)

	for _, err := range f.svc.All(context.Background(), domain.NeedFilter{Kind: "bogus"}) {
		assert.ErrorIs(t, err, domain.ErrInvalidKind)
	}
}
