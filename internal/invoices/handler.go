package invoices

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"invoice-backend/internal/shared/server/respond"
	"invoice-backend/internal/shared/storage/blob"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches invoice routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/invoices", h.create)
	rg.GET("/invoices/history/:customerId", h.history)
	rg.GET("/invoices/:id", h.get)
	rg.POST("/invoices/:id/upload", h.upload)
	rg.GET("/invoices/:id/download", h.download)
	rg.PUT("/invoices/:id", h.reassign)
	rg.DELETE("/invoices/:id", h.delete)
}

func (h *Handler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "customerId is required", nil)
		return
	}

	inv, err := h.Svc.CreateInvoice(c.Request.Context(), req.CustomerID, req.Content)
	if err != nil {
		if errors.Is(err, ErrEnqueue) && inv.ID != "" {
			// The invoice exists locally; report it so the caller can trigger the upload.
			c.Set("invoiceId", inv.ID)
			respond.JSON(c, http.StatusAccepted, toResponse(inv))
			return
		}
		writeError(c, err, "failed to create invoice")
		return
	}
	c.Set("invoiceId", inv.ID)
	respond.JSON(c, http.StatusCreated, toResponse(inv))
}

func (h *Handler) get(c *gin.Context) {
	inv, err := h.Svc.FindInvoiceByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "failed to load invoice")
		return
	}
	respond.OK(c, toResponse(inv))
}

func (h *Handler) history(c *gin.Context) {
	list, err := h.Svc.ListByCustomer(c.Request.Context(), c.Param("customerId"))
	if err != nil {
		writeError(c, err, "failed to list invoices")
		return
	}
	items := make([]invoiceResponse, 0, len(list))
	for _, inv := range list {
		items = append(items, toResponse(inv))
	}
	respond.OK(c, items)
}

func (h *Handler) upload(c *gin.Context) {
	id := c.Param("id")
	c.Set("invoiceId", id)
	inv, err := h.Svc.UploadToBlobStore(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "failed to upload invoice")
		return
	}
	respond.OK(c, toResponse(inv))
}

func (h *Handler) download(c *gin.Context) {
	id := c.Param("id")
	c.Set("invoiceId", id)
	data, err := h.Svc.DownloadDocument(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "failed to download invoice")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", data)
}

func (h *Handler) reassign(c *gin.Context) {
	id := c.Param("id")
	c.Set("invoiceId", id)
	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "customerId is required", nil)
		return
	}

	inv, err := h.Svc.ReassignCustomer(c.Request.Context(), id, req.CustomerID)
	if err != nil {
		writeError(c, err, "failed to update invoice")
		return
	}
	respond.OK(c, toResponse(inv))
}

func (h *Handler) delete(c *gin.Context) {
	id := c.Param("id")
	c.Set("invoiceId", id)
	if err := h.Svc.DeleteInvoice(c.Request.Context(), id); err != nil {
		writeError(c, err, "failed to delete invoice")
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrValidation):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "invoice not found", nil)
	case errors.Is(err, ErrNotUploaded):
		respond.Error(c, http.StatusConflict, "not_uploaded", "invoice document has not been uploaded yet", nil)
	case errors.Is(err, blob.ErrObjectNotFound):
		respond.Error(c, http.StatusNotFound, "document_missing", "invoice document is missing from the blob store", nil)
	case errors.Is(err, ErrSimulatedFailure):
		respond.Error(c, http.StatusInternalServerError, "simulated_failure", err.Error(), nil)
	case errors.Is(err, ErrUpload), errors.Is(err, ErrRemoteStore):
		respond.Error(c, http.StatusBadGateway, "remote_store_error", fallback, err.Error())
	case errors.Is(err, ErrStorageWrite):
		respond.Error(c, http.StatusInternalServerError, "storage_error", fallback, err.Error())
	default:
		respond.Error(c, http.StatusInternalServerError, "internal", fallback, err.Error())
	}
}
