package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	relinkdomain "github.com/smallbiznis/spendledger/internal/relink/domain"
)

type relinkRequest struct {
	Axis     string  `json:"axis"`
	EntityID *string `json:"entity_id"`
}

func (s *Server) Relink(c *gin.Context) {
	accountID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req relinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	axis, err := inventorydomain.ParseAxis(req.Axis)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	entityID, err := parseOptionalSnowflakeID(req.EntityID)
	if err != nil {
		AbortWithError(c, newValidationError("entity_id", "invalid_entity_id", "invalid entity_id"))
		return
	}

	resp, err := s.relinkSvc.Relink(c.Request.Context(), relinkdomain.RelinkRequest{
		AccountID: accountID,
		Axis:      axis,
		EntityID:  entityID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type bulkRelinkRequest struct {
	AccountIDs []string `json:"account_ids"`
	Axis       string   `json:"axis"`
	EntityID   *string  `json:"entity_id"`
}

func (s *Server) BulkRelink(c *gin.Context) {
	var req bulkRelinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	accountIDs, err := parseSnowflakeIDs(req.AccountIDs)
	if err != nil {
		AbortWithError(c, newValidationError("account_ids", "invalid_account_ids", "invalid account_ids"))
		return
	}
	axis, err := inventorydomain.ParseAxis(req.Axis)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	entityID, err := parseOptionalSnowflakeID(req.EntityID)
	if err != nil {
		AbortWithError(c, newValidationError("entity_id", "invalid_entity_id", "invalid entity_id"))
		return
	}

	resp, err := s.relinkSvc.BulkRelink(c.Request.Context(), relinkdomain.BulkRelinkRequest{
		AccountIDs: accountIDs,
		Axis:       axis,
		EntityID:   entityID,
	})
	if err == nil {
		err = resp.Err()
	}
	if writePartial(c, resp, err) {
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type bulkStatusRequest struct {
	AccountIDs []string `json:"account_ids"`
	Status     string   `json:"status"`
}

func (s *Server) BulkSetStatus(c *gin.Context) {
	var req bulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	accountIDs, err := parseSnowflakeIDs(req.AccountIDs)
	if err != nil {
		AbortWithError(c, newValidationError("account_ids", "invalid_account_ids", "invalid account_ids"))
		return
	}

	resp, err := s.relinkSvc.BulkSetStatus(c.Request.Context(), relinkdomain.BulkStatusRequest{
		AccountIDs: accountIDs,
		Status:     inventorydomain.AccountStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	})
	if err == nil {
		err = resp.Err()
	}
	if writePartial(c, resp, err) {
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
