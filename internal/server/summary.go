package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	summarydomain "github.com/smallbiznis/spendledger/internal/summary/domain"
)

func (s *Server) GetEntitySummary(c *gin.Context) {
	ref, err := entityRefFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	rng, err := parseDateRange(c.Query("from"), c.Query("to"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.summarySvc.GetEntitySummary(c.Request.Context(), summarydomain.SummaryRequest{
		EntityType: ref.Type,
		EntityID:   ref.ID,
		Range:      rng,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AttributedAsOf(c *gin.Context) {
	ref, err := entityRefFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	axis, err := inventorydomain.ParseAxis(string(ref.Type))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	asOf, err := parseDate(c.Query("date"))
	if err != nil {
		AbortWithError(c, summarydomain.ErrInvalidAsOf)
		return
	}

	resp, err := s.summarySvc.AttributedAsOf(c.Request.Context(), axis, ref.ID, asOf)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
