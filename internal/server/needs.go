package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	approvaldomain "github.com/smallbiznis/needflow/internal/approval/domain"
	needdomain "github.com/smallbiznis/needflow/internal/need/domain"
	"github.com/smallbiznis/needflow/pkg/db/pagination"
)

type createNeedRequest struct {
	CaseID       string `json:"case_id"`
	Kind         string `json:"kind"`
	SupplyItemID string `json:"supply_item_id"`
	ItemName     string `json:"item_name"`
	Quantity     int64  `json:"quantity"`
	Priority     string `json:"priority"`
	Note         string `json:"note"`
}

func (s *Server) CreateNeed(c *gin.Context) {
	var req createNeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	caseID, err := parseOptionalSnowflakeID(req.CaseID)
	if err != nil || caseID == nil {
		AbortWithError(c, newValidationError("case_id", "invalid_case_id", "invalid case_id"))
		return
	}
	itemID, err := parseOptionalSnowflakeID(req.SupplyItemID)
	if err != nil {
		AbortWithError(c, newValidationError("supply_item_id", "invalid_supply_item_id", "invalid supply_item_id"))
		return
	}

	create := needdomain.CreateNeedRequest{
		CaseID:   *caseID,
		Actor:    actorFrom(c),
		Kind:     needdomain.Kind(strings.TrimSpace(req.Kind)),
		ItemName: req.ItemName,
		Quantity: req.Quantity,
		Priority: req.Priority,
		Note:     req.Note,
	}
	if itemID != nil {
		create.SupplyItemID = *itemID
	}

	resp, err := s.needSvc.Create(c.Request.Context(), create)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListNeeds(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CaseID      string `form:"case_id"`
		WorkerID    string `form:"worker_id"`
		Kind        string `form:"kind"`
		Status      string `form:"status"`
		BatchID     string `form:"batch_id"`
		CreatedFrom string `form:"created_from"`
		CreatedTo   string `form:"created_to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	caseID, err := parseOptionalSnowflakeID(query.CaseID)
	if err != nil {
		AbortWithError(c, newValidationError("case_id", "invalid_case_id", "invalid case_id"))
		return
	}
	workerID, err := parseOptionalSnowflakeID(query.WorkerID)
	if err != nil {
		AbortWithError(c, newValidationError("worker_id", "invalid_worker_id", "invalid worker_id"))
		return
	}
	batchID, err := parseOptionalSnowflakeID(query.BatchID)
	if err != nil {
		AbortWithError(c, newValidationError("batch_id", "invalid_batch_id", "invalid batch_id"))
		return
	}
	createdFrom, err := parseOptionalTime(query.CreatedFrom, false)
	if err != nil {
		AbortWithError(c, newValidationError("created_from", "invalid_created_from", "invalid created_from"))
		return
	}
	createdTo, err := parseOptionalTime(query.CreatedTo, true)
	if err != nil {
		AbortWithError(c, newValidationError("created_to", "invalid_created_to", "invalid created_to"))
		return
	}

	resp, err := s.needSvc.List(c.Request.Context(), needdomain.ListNeedRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		NeedFilter: needdomain.NeedFilter{
			CaseID:      caseID,
			WorkerID:    workerID,
			Kind:        needdomain.Kind(strings.TrimSpace(query.Kind)),
			Status:      needdomain.Status(strings.TrimSpace(query.Status)),
			BatchID:     batchID,
			CreatedFrom: createdFrom,
			CreatedTo:   createdTo,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Needs, "page_info": resp.PageInfo})
}

func (s *Server) GetNeedByID(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.needSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type transitionNeedRequest struct {
	Action string `json:"action"`
}

func (s *Server) TransitionNeed(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req transitionNeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.approvalSvc.Transition(c.Request.Context(), id, approvaldomain.Action(req.Action), actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type collectNeedRequest struct {
	BatchID string `json:"batch_id"`
}

func (s *Server) CollectNeed(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req collectNeedRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	batchID, err := parseOptionalSnowflakeID(req.BatchID)
	if err != nil {
		AbortWithError(c, newValidationError("batch_id", "invalid_batch_id", "invalid batch_id"))
		return
	}

	resp, err := s.approvalSvc.Collect(c.Request.Context(), approvaldomain.CollectRequest{
		NeedID:  id,
		BatchID: batchID,
		Actor:   actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
