package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/tieubaoca/docrag/types"
)

func (h *DocumentHandler) HandleQuery(c *gin.Context) {
	var req types.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendBadRequest(c, "Invalid request body")
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	res, err := h.documents.Query(ctx, req)
	if err != nil {
		sendError(c, err)
		return
	}
	sendSuccess(c, res)
}

func (h *DocumentHandler) HandleCrossQuery(c *gin.Context) {
	var req types.CrossQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendBadRequest(c, "Invalid request body")
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	res, err := h.documents.CrossQuery(ctx, req)
	if err != nil {
		sendError(c, err)
		return
	}
	sendSuccess(c, res)
}

func (h *DocumentHandler) HandleAggregation(c *gin.Context) {
	var req types.AggregationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendBadRequest(c, "Invalid request body")
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	res, err := h.documents.Aggregate(ctx, req)
	if err != nil {
		sendError(c, err)
		return
	}
	sendSuccess(c, res)
}
