package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
)

type createNamedRequest struct {
	Name string `json:"name"`
}

func (s *Server) CreateBatch(c *gin.Context) {
	var req createNamedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.inventorySvc.CreateBatch(c.Request.Context(), inventorydomain.CreateBatchRequest{
		Name: strings.TrimSpace(req.Name),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) CreateCustomer(c *gin.Context) {
	var req createNamedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.inventorySvc.CreateCustomer(c.Request.Context(), inventorydomain.CreateCustomerRequest{
		Name: strings.TrimSpace(req.Name),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) CreateInvoiceEntity(c *gin.Context) {
	var req createNamedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.inventorySvc.CreateInvoiceEntity(c.Request.Context(), inventorydomain.CreateInvoiceEntityRequest{
		Name: strings.TrimSpace(req.Name),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

type createAccountRequest struct {
	ExternalRef     string  `json:"external_ref"`
	Name            string  `json:"name"`
	BatchID         string  `json:"batch_id"`
	InvoiceEntityID *string `json:"invoice_entity_id"`
	CustomerID      *string `json:"customer_id"`
	Status          string  `json:"status"`
}

func (s *Server) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	batchID, err := parseSnowflakeID(req.BatchID)
	if err != nil {
		AbortWithError(c, newValidationError("batch_id", "invalid_batch_id", "invalid batch_id"))
		return
	}
	invoiceID, err := parseOptionalSnowflakeID(req.InvoiceEntityID)
	if err != nil {
		AbortWithError(c, newValidationError("invoice_entity_id", "invalid_invoice_entity_id", "invalid invoice_entity_id"))
		return
	}
	customerID, err := parseOptionalSnowflakeID(req.CustomerID)
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer_id"))
		return
	}

	resp, err := s.inventorySvc.CreateAccount(c.Request.Context(), inventorydomain.CreateAccountRequest{
		ExternalRef:       strings.TrimSpace(req.ExternalRef),
		Name:              strings.TrimSpace(req.Name),
		BatchID:           batchID,
		CurrentInvoiceID:  invoiceID,
		CurrentCustomerID: customerID,
		Status:            inventorydomain.AccountStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetAccount(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.inventorySvc.GetAccount(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
