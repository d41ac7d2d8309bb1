package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	reconciledomain "github.com/smallbiznis/spendledger/internal/reconcile/domain"
)

type reconcileAllRequest struct {
	Types       []string `json:"types"`
	BatchSize   int      `json:"batch_size"`
	Concurrency int      `json:"concurrency"`
}

func (s *Server) ReconcileAll(c *gin.Context) {
	var req reconcileAllRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if req.BatchSize < 0 || req.Concurrency < 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	opts := reconciledomain.Options{BatchSize: req.BatchSize, Concurrency: req.Concurrency}
	for _, raw := range req.Types {
		entityType, err := inventorydomain.ParseEntityType(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		opts.Types = append(opts.Types, entityType)
	}

	report, err := s.reconcileSvc.ReconcileAll(c.Request.Context(), opts)
	if writePartial(c, report, err) {
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) ReconcileEntity(c *gin.Context) {
	ref, err := entityRefFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entry, err := s.reconcileSvc.ReconcileEntity(c.Request.Context(), ref)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) VerifyEntity(c *gin.Context) {
	ref, err := entityRefFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entry, err := s.reconcileSvc.Verify(c.Request.Context(), ref)
	if errors.Is(err, errs.ErrConsistencyViolation) {
		_, payload := mapError(err)
		c.JSON(http.StatusConflict, gin.H{"data": entry, "error": payload})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

type runJobRequest struct {
	Key    string         `json:"key"`
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params"`
}

func (s *Server) RunReconcileJob(c *gin.Context) {
	var req runJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	job, err := s.reconcileSvc.RunJob(c.Request.Context(), reconciledomain.JobRequest{
		Key:    strings.TrimSpace(req.Key),
		Kind:   reconciledomain.JobKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Params: req.Params,
	})
	if writePartial(c, job, err) {
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

func entityRefFromPath(c *gin.Context) (inventorydomain.EntityRef, error) {
	entityType, err := inventorydomain.ParseEntityType(c.Param("entity_type"))
	if err != nil {
		return inventorydomain.EntityRef{}, err
	}
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		return inventorydomain.EntityRef{}, err
	}
	return inventorydomain.EntityRef{Type: entityType, ID: id}, nil
}
