package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/data"
	"github.com/gin-gonic/gin"
)

// DataHandler handles the data objects stored in circles
type DataHandler struct {
	logger      logging.Logger
	dataService data.DataService
}

// NewDataHandler creates a new data handler
func NewDataHandler(logger logging.Logger, dataService data.DataService) *DataHandler {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &DataHandler{
		logger:      logger,
		dataService: dataService,
	}
}

// StoreDataRequest carries the payload base64 encoded, as encoding/json does for []byte
type StoreDataRequest struct {
	Name    string `json:"name" binding:"required"`
	Payload []byte `json:"payload" binding:"required"`
}

type DataInfoResponse struct {
	ID           string    `json:"id"`
	CircleID     string    `json:"circle_id"`
	GenerationID string    `json:"generation_id"`
	Name         string    `json:"name"`
	Checksum     string    `json:"checksum"`
	Size         int       `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

type DataResponse struct {
	DataInfoResponse
	Payload []byte `json:"payload"`
}

type DataListResponse struct {
	Data       []DataInfoResponse `json:"data"`
	TotalCount int                `json:"total_count"`
}

func toDataInfoResponse(info *data.DataInfo) DataInfoResponse {
	return DataInfoResponse{
		ID:           info.ID,
		CircleID:     info.CircleID,
		GenerationID: info.GenerationID,
		Name:         info.Name,
		Checksum:     info.Checksum,
		Size:         info.Size,
		CreatedAt:    info.CreatedAt,
	}
}

// StoreData handles POST /api/circles/:id/data
func (h *DataHandler) StoreData(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	var req StoreDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, h.logger, err)
		return
	}

	info, err := h.dataService.Store(c.Request.Context(), caller, c.Param("id"), req.Name, req.Payload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toDataInfoResponse(info))
}

// ListData handles GET /api/circles/:id/data
func (h *DataHandler) ListData(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	query := data.DataQuery{
		CircleID: c.Param("id"),
		Name:     c.Query("name"),
	}

	// Parse pagination parameters
	if pageStr := c.Query("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page parameter"})
			return
		}
		query.Page = page
	}
	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		pageSize, err := strconv.Atoi(pageSizeStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page_size parameter"})
			return
		}
		query.PageSize = pageSize
	}

	infos, total, err := h.dataService.List(c.Request.Context(), caller, query)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := DataListResponse{Data: make([]DataInfoResponse, 0, len(infos)), TotalCount: total}
	for _, info := range infos {
		response.Data = append(response.Data, toDataInfoResponse(info))
	}
	c.JSON(http.StatusOK, response)
}

// ReadData handles GET /api/circles/:id/data/:dataId
func (h *DataHandler) ReadData(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	decrypted, err := h.dataService.Read(c.Request.Context(), caller, c.Param("id"), c.Param("dataId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, DataResponse{
		DataInfoResponse: toDataInfoResponse(&decrypted.DataInfo),
		Payload:          decrypted.Payload,
	})
}

// DeleteData handles DELETE /api/circles/:id/data/:dataId
func (h *DataHandler) DeleteData(c *gin.Context) {
	caller, ok := callerOf(c, h.logger)
	if !ok {
		return
	}

	if err := h.dataService.Delete(c.Request.Context(), caller, c.Param("id"), c.Param("dataId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
