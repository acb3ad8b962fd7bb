package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	matchdomain "github.com/smallbiznis/needflow/internal/match/domain"
)

type recordMatchRequest struct {
	Quantity  int64  `json:"quantity"`
	Note      string `json:"note"`
	MatchDate string `json:"match_date"`
}

func (s *Server) RecordMatch(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req recordMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	matchDate, err := parseOptionalTime(req.MatchDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("match_date", "invalid_match_date", "invalid match_date"))
		return
	}

	resp, err := s.matchSvc.RecordMatch(c.Request.Context(), matchdomain.RecordMatchRequest{
		NeedID:    id,
		Quantity:  req.Quantity,
		Actor:     actorFrom(c),
		Note:      req.Note,
		MatchDate: matchDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListMatches(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.matchSvc.ListByNeed(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
