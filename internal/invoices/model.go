package invoices

import (
	"fmt"
	"time"
)

// DefaultContent is rendered when an invoice is created without content.
const DefaultContent = "Invoice content."

// Invoice represents a customer invoice and where its rendered document lives.
type Invoice struct {
	ID               string
	CustomerID       string
	CreationDate     time.Time
	LocalStagingPath string
	BlobKey          string
	Uploaded         bool
	PageCount        int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BlobKeyFor derives the remote object key for the invoice under the given owner.
func (i Invoice) BlobKeyFor(customerID string) string {
	return fmt.Sprintf("%s/%s/%s.pdf", customerID, i.CreationDate.Format("2006-01"), i.ID)
}

// truncateDate drops the time of day, keeping the calendar date in UTC.
func truncateDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
