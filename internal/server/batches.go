package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	distributiondomain "github.com/smallbiznis/needflow/internal/distribution/domain"
	"github.com/smallbiznis/needflow/pkg/db/pagination"
)

type createBatchRequest struct {
	DistributionDate string   `json:"distribution_date"`
	NeedIDs          []string `json:"need_ids"`
	Notes            string   `json:"notes"`
}

func (s *Server) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	distributionDate, err := parseOptionalTime(req.DistributionDate, false)
	if err != nil || distributionDate == nil {
		AbortWithError(c, newValidationError("distribution_date", "invalid_distribution_date", "invalid distribution_date"))
		return
	}
	needIDs, err := parseSnowflakeIDs(req.NeedIDs)
	if err != nil {
		AbortWithError(c, newValidationError("need_ids", "invalid_need_ids", "invalid need_ids"))
		return
	}

	resp, err := s.distributionSvc.CreateBatch(c.Request.Context(), distributiondomain.CreateBatchRequest{
		DistributionDate: *distributionDate,
		Actor:            actorFrom(c),
		NeedIDs:          needIDs,
		Notes:            req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListBatches(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.distributionSvc.List(c.Request.Context(), distributiondomain.ListBatchRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Status: distributiondomain.BatchStatus(strings.TrimSpace(query.Status)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Batches, "page_info": resp.PageInfo})
}

func (s *Server) GetBatchByID(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.distributionSvc.GetDetails(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBatchManifest(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	reader, err := s.distributionSvc.Manifest(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="batch-`+id.String()+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", body)
}

func (s *Server) ApproveBatch(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.distributionSvc.ApproveBatch(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type rejectBatchRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) RejectBatch(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req rejectBatchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.distributionSvc.RejectBatch(c.Request.Context(), id, actorFrom(c), req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CompleteBatch(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.distributionSvc.CompleteBatch(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
