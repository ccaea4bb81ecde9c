package invoices

import "time"

type createRequest struct {
	CustomerID string `json:"customerId" binding:"required"`
	Content    string `json:"content"`
}

type reassignRequest struct {
	CustomerID string `json:"customerId" binding:"required"`
}

type invoiceResponse struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customerId"`
	CreationDate string    `json:"creationDate"`
	BlobKey      string    `json:"blobKey,omitempty"`
	Uploaded     bool      `json:"uploaded"`
	PageCount    int       `json:"pageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toResponse(inv Invoice) invoiceResponse {
	return invoiceResponse{
		ID:           inv.ID,
		CustomerID:   inv.CustomerID,
		CreationDate: inv.CreationDate.Format("2006-01-02"),
		BlobKey:      inv.BlobKey,
		Uploaded:     inv.Uploaded,
		PageCount:    inv.PageCount,
		CreatedAt:    inv.CreatedAt,
		UpdatedAt:    inv.UpdatedAt,
	}
}
