package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	snapshotdomain "github.com/smallbiznis/spendledger/internal/snapshot/domain"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
)

type recordSpendRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	Currency    string           `json:"currency"`
	PeriodStart string           `json:"period_start"`
	PeriodEnd   string           `json:"period_end"`
}

func (s *Server) RecordSpend(c *gin.Context) {
	accountID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	date, err := parseDate(c.Param("date"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req recordSpendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount == nil {
		AbortWithError(c, spendingdomain.ErrInvalidAmount)
		return
	}
	periodStart, err := parseOptionalDate(req.PeriodStart)
	if err != nil {
		AbortWithError(c, spendingdomain.ErrInvalidPeriod)
		return
	}
	periodEnd, err := parseOptionalDate(req.PeriodEnd)
	if err != nil {
		AbortWithError(c, spendingdomain.ErrInvalidPeriod)
		return
	}

	resp, err := s.spendingSvc.RecordSpend(c.Request.Context(), spendingdomain.RecordSpendRequest{
		AccountID:   accountID,
		Date:        date,
		Amount:      *req.Amount,
		Currency:    strings.TrimSpace(req.Currency),
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSpending(c *gin.Context) {
	accountID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	rng, err := parseDateRange(c.Query("from"), c.Query("to"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	records, err := s.spendingSvc.RecordsForAccount(c.Request.Context(), accountID, rng)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) AggregateSpend(c *gin.Context) {
	accountID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	total, err := s.spendingSvc.AggregateSpend(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"account_id": accountID.String(),
		"total":      total,
	}})
}

func (s *Server) ListSnapshots(c *gin.Context) {
	accountID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	from, err := parseOptionalDate(c.Query("from"))
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalDate(c.Query("to"))
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil || limit < 0 {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	snapshots, err := s.snapshotSvc.ListForAccount(c.Request.Context(), accountID, snapshotdomain.ListFilter{
		Type:  snapshotdomain.SnapshotType(strings.ToUpper(strings.TrimSpace(c.Query("type")))),
		From:  from,
		To:    to,
		Limit: limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshots})
}
