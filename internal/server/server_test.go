package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	approvalservice "github.com/smallbiznis/needflow/internal/approval/service"
	auditrepository "github.com/smallbiznis/needflow/internal/audit/repository"
	auditservice "github.com/smallbiznis/needflow/internal/audit/service"
	"github.com/smallbiznis/needflow/internal/authorization"
	catalogcache "github.com/smallbiznis/needflow/internal/catalog/cache"
	catalogdomain "github.com/smallbiznis/needflow/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/needflow/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/needflow/internal/catalog/service"
	"github.com/smallbiznis/needflow/internal/clock"
	"github.com/smallbiznis/needflow/internal/config"
	distributiondomain "github.com/smallbiznis/needflow/internal/distribution/domain"
	distributionrepository "github.com/smallbiznis/needflow/internal/distribution/repository"
	distributionservice "github.com/smallbiznis/needflow/internal/distribution/service"
	matchrepository "github.com/smallbiznis/needflow/internal/match/repository"
	matchservice "github.com/smallbiznis/needflow/internal/match/service"
	needdomain "github.com/smallbiznis/needflow/internal/need/domain"
	needrepository "github.com/smallbiznis/needflow/internal/need/repository"
	needservice "github.com/smallbiznis/needflow/internal/need/service"
	"github.com/smallbiznis/needflow/internal/providers/pdf"
	"github.com/smallbiznis/needflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testAPI struct {
	engine  *gin.Engine
	catalog catalogdomain.Service
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t)
	node := testutil.NewNode(t)
	fake := clock.NewFakeClock(testutil.Epoch)
	log := zap.NewNop()

	policy, err := config.NewStaticPolicyConfigHolder(config.DefaultPolicyConfig())
	require.NoError(t, err)
	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepository.Provide(), Clock: fake})
	enforcer, err := authorization.NewEnforcer(nil, policy)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, Policy: policy, AuditSvc: audit})

	catalog := catalogservice.NewService(catalogservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  catalogrepository.Provide(),
		Cache: catalogcache.NewItemCache(nil, config.Config{}),
		Clock: fake,
	})
	lookup := catalogservice.NewLookup(catalog)

	needRepo := needrepository.Provide()
	batchRepo := distributionrepository.Provide()
	matchRepo := matchrepository.Provide()

	needs := needservice.NewService(needservice.Params{DB: db, Log: log, GenID: node, Repo: needRepo, Catalog: lookup, AuditSvc: audit, Clock: fake})
	matches := matchservice.NewService(matchservice.Params{DB: db, Log: log, GenID: node, Repo: matchRepo, NeedRepo: needRepo, AuditSvc: audit, Clock: fake})
	approval := approvalservice.NewService(approvalservice.Params{DB: db, Log: log, NeedRepo: needRepo, BatchRepo: batchRepo, Authz: authz, AuditSvc: audit, Clock: fake})
	distribution := distributionservice.NewService(distributionservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Repo:      batchRepo,
		NeedRepo:  needRepo,
		MatchRepo: matchRepo,
		Approval:  approval,
		Authz:     authz,
		Catalog:   lookup,
		PDF:       pdf.New(),
		Policy:    policy,
		AuditSvc:  audit,
		Clock:     fake,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{
		Gin:             engine,
		NeedSvc:         needs,
		MatchSvc:        matches,
		ApprovalSvc:     approval,
		DistributionSvc: distribution,
		CatalogSvc:      catalog,
		AuditSvc:        audit,
		Authz:           authz,
	})

	return testAPI{engine: engine, catalog: catalog}
}

type caller struct {
	id   string
	role string
}

var (
	asWorker     = &caller{id: "11", role: "worker"}
	asStaff      = &caller{id: "12", role: "staff"}
	asSupervisor = &caller{id: "13", role: "Supervisor"}
)

func (a testAPI) do(t *testing.T, method, path string, who *caller, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if who != nil {
		req.Header.Set(HeaderWorkerID, who.id)
		req.Header.Set(HeaderWorkerRole, who.role)
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func (a testAPI) item(t *testing.T, name string) catalogdomain.SupplyItem {
	t.Helper()
	item, _, err := a.catalog.CreateItem(context.Background(), catalogdomain.CreateItemRequest{Name: name, Unit: "pack"})
	require.NoError(t, err)
	return item
}

func (a testAPI) createNeed(t *testing.T, item catalogdomain.SupplyItem, quantity int64) needdomain.Need {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/needs", asWorker, gin.H{
		"case_id":        "500",
		"kind":           "regular",
		"supply_item_id": item.ID.String(),
		"quantity":       quantity,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeData[needdomain.Need](t, rec)
}

func (a testAPI) approveNeed(t *testing.T, id snowflake.ID) {
	t.Helper()
	path := "/api/needs/" + id.String() + "/transitions"
	rec := a.do(t, http.MethodPost, path, asStaff, gin.H{"action": "confirm"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = a.do(t, http.MethodPost, path, asSupervisor, gin.H{"action": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestMutationsRequireActorHeaders(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/needs", nil, gin.H{"case_id": "1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)

	rec = api.do(t, http.MethodPost, "/api/needs", &caller{id: "abc", role: "staff"}, gin.H{"case_id": "1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/needs", &caller{id: "12", role: "janitor"}, gin.H{"case_id": "1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNeedLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	rice := api.item(t, "Rice")

	need := api.createNeed(t, rice, 3)
	assert.Equal(t, needdomain.StatusPending, need.Status)
	assert.Equal(t, "Rice", need.ItemName)

	path := "/api/needs/" + need.ID.String() + "/transitions"

	rec := api.do(t, http.MethodPost, path, asWorker, gin.H{"action": "confirm"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, path, asSupervisor, gin.H{"action": "collect"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "illegal_transition", decodeError(t, rec).Type)

	rec = api.do(t, http.MethodPost, path, asStaff, gin.H{"action": "teleport"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.approveNeed(t, need.ID)

	rec = api.do(t, http.MethodGet, "/api/needs/"+need.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, needdomain.StatusApproved, decodeData[needdomain.Need](t, rec).Status)

	matchesPath := "/api/needs/" + need.ID.String() + "/matches"
	rec = api.do(t, http.MethodPost, matchesPath, asWorker, gin.H{"quantity": 2, "match_date": "2024-03-02"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, matchesPath, asWorker, gin.H{"quantity": 5})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "over_collection", decodeError(t, rec).Type)

	rec = api.do(t, http.MethodGet, matchesPath, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]json.RawMessage](t, rec), 1)

	rec = api.do(t, http.MethodPost, "/api/needs/"+need.ID.String()+"/collect", asStaff, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, needdomain.StatusCollected, decodeData[needdomain.Need](t, rec).Status)
}

func TestListNeedsFiltersAndPages(t *testing.T) {
	api := newTestAPI(t)
	rice := api.item(t, "Rice")
	first := api.createNeed(t, rice, 1)
	api.createNeed(t, rice, 1)
	api.approveNeed(t, first.ID)

	rec := api.do(t, http.MethodGet, "/api/needs?status=approved", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	needs := decodeData[[]needdomain.Need](t, rec)
	require.Len(t, needs, 1)
	assert.Equal(t, first.ID, needs[0].ID)

	rec = api.do(t, http.MethodGet, "/api/needs?page_size=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data     []needdomain.Need `json:"data"`
		PageInfo struct {
			NextPageToken string `json:"next_page_token"`
			HasMore       bool   `json:"has_more"`
		} `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Data, 1)
	assert.True(t, page.PageInfo.HasMore)
	assert.NotEmpty(t, page.PageInfo.NextPageToken)

	rec = api.do(t, http.MethodGet, "/api/needs?case_id=nope", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "case_id", payload.Errors[0].Field)
}

func TestCreateNeedValidation(t *testing.T) {
	api := newTestAPI(t)
	rice := api.item(t, "Rice")

	rec := api.do(t, http.MethodPost, "/api/needs", asWorker, gin.H{"kind": "regular", "supply_item_id": rice.ID.String(), "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/needs", asWorker, gin.H{"case_id": "5", "kind": "regular", "supply_item_id": rice.ID.String(), "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_quantity", payload.Errors[0].Code)
}

func TestBatchFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	rice := api.item(t, "Rice")
	approved := api.createNeed(t, rice, 2)
	api.approveNeed(t, approved.ID)
	pending := api.createNeed(t, rice, 1)

	rec := api.do(t, http.MethodPost, "/api/batches", asStaff, gin.H{
		"distribution_date": "2024-03-08",
		"need_ids":          []string{approved.ID.String(), pending.ID.String()},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "need_not_eligible", payload.Type)
	assert.Equal(t, map[string]string{pending.ID.String(): "not_approved"}, payload.Details)

	rec = api.do(t, http.MethodPost, "/api/batches", asStaff, gin.H{"distribution_date": "2024-03-08", "need_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/batches", asStaff, gin.H{
		"distribution_date": "2024-03-08",
		"need_ids":          []string{approved.ID.String()},
		"notes":             "hall",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decodeData[distributiondomain.Batch](t, rec)
	assert.Equal(t, distributiondomain.BatchStatusPending, batch.Status)
	assert.Equal(t, int64(2), batch.TotalSupplyItems)

	base := "/api/batches/" + batch.ID.String()

	rec = api.do(t, http.MethodPost, base+"/approve", asStaff, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, base+"/approve", asSupervisor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, distributiondomain.BatchStatusApproved, decodeData[distributiondomain.Batch](t, rec).Status)

	rec = api.do(t, http.MethodPost, base+"/reject", asSupervisor, gin.H{"reason": "late"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, base, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decodeData[distributiondomain.BatchDetails](t, rec)
	require.Len(t, details.Members, 1)
	assert.Equal(t, needdomain.StatusCollected, details.Members[0].Need.Status)

	rec = api.do(t, http.MethodGet, base+"/manifest", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec = api.do(t, http.MethodPost, base+"/complete", asStaff, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, distributiondomain.BatchStatusCompleted, decodeData[distributiondomain.Batch](t, rec).Status)

	rec = api.do(t, http.MethodGet, "/api/batches?status=completed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]json.RawMessage](t, rec), 1)

	rec = api.do(t, http.MethodGet, "/api/audit_logs?action=batch.approve", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]json.RawMessage](t, rec), 1)
}

func TestUnknownResourcesAreNotFound(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/api/needs/abc", "/api/needs/999", "/api/batches/999", "/api/nowhere"} {
		rec := api.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestListSupplyItemsActiveOnly(t *testing.T) {
	api := newTestAPI(t)
	api.item(t, "Rice")
	api.item(t, "Soap")

	rec := api.do(t, http.MethodGet, "/api/supply_items", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]catalogdomain.SupplyItem](t, rec), 2)

	rec = api.do(t, http.MethodGet, "/api/supply_items?active_only=maybe", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type needServiceMock struct {
	mock.Mock
}

func (m *needServiceMock) Create(ctx context.Context, req needdomain.CreateNeedRequest) (needdomain.Need, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(needdomain.Need), args.Error(1)
}

func (m *needServiceMock) Get(ctx context.Context, id snowflake.ID) (needdomain.Need, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(needdomain.Need), args.Error(1)
}

func (m *needServiceMock) List(ctx context.Context, req needdomain.ListNeedRequest) (needdomain.ListNeedResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(needdomain.ListNeedResponse), args.Error(1)
}

func (m *needServiceMock) All(ctx context.Context, filter needdomain.NeedFilter) iter.Seq2[needdomain.Need, error] {
	return func(yield func(needdomain.Need, error) bool) {}
}

func TestUnexpectedErrorsMapToInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	needs := &needServiceMock{}
	needs.On("Get", mock.Anything, snowflake.ID(42)).Return(needdomain.Need{}, errors.New("disk on fire"))
	needs.On("Get", mock.Anything, snowflake.ID(43)).Return(needdomain.Need{}, needdomain.ErrConcurrentModification)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{Gin: engine, NeedSvc: needs})
	api := testAPI{engine: engine}

	rec := api.do(t, http.MethodGet, "/api/needs/42", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).Type)

	rec = api.do(t, http.MethodGet, "/api/needs/43", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "concurrent_modification", decodeError(t, rec).Type)

	needs.AssertExpectations(t)
}
