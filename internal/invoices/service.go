package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"invoice-backend/internal/render"
	"invoice-backend/internal/shared/metrics"
	"invoice-backend/internal/shared/storage/blob"
	"invoice-backend/internal/shared/storage/staging"
	"invoice-backend/internal/shared/telemetry"
)

// Publisher hands invoice ids to the upload queue.
type Publisher interface {
	Publish(ctx context.Context, invoiceID string) error
}

type pageCounter interface {
	PageCount(data []byte) (int, error)
}

var validate = validator.New()

type customerInput struct {
	CustomerID string `validate:"required,max=255,excludesall=/"`
}

// Service orchestrates the invoice lifecycle across the record store, the
// staging area, the blob store and the upload queue.
type Service struct {
	Repo     Repo
	Store    blob.Store
	Staging  *staging.Area
	Renderer render.Renderer
	// Queue is optional; without it invoices stay local until uploaded explicitly.
	Queue  Publisher
	Faults FaultInjector

	MaxContentBytes int64
	Now             func() time.Time
	NewID           func() string
}

// CreateInvoice renders content, stages the document, persists the record and
// publishes the id for upload. The id is published only after the record and
// the staged document are durable. A publish failure returns the stored invoice
// together with ErrEnqueue.
func (s *Service) CreateInvoice(ctx context.Context, customerID, content string) (Invoice, error) {
	customerID = strings.TrimSpace(customerID)
	if err := validateCustomer(customerID); err != nil {
		return Invoice{}, err
	}
	if strings.TrimSpace(content) == "" {
		content = DefaultContent
	}
	if s.MaxContentBytes > 0 && int64(len(content)) > s.MaxContentBytes {
		return Invoice{}, fmt.Errorf("%w: content exceeds %d bytes", ErrValidation, s.MaxContentBytes)
	}

	now := s.now()
	inv := Invoice{
		ID:           s.newID(),
		CustomerID:   customerID,
		CreationDate: truncateDate(now),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	data, err := s.Renderer.Render(ctx, content)
	if err != nil {
		return Invoice{}, fmt.Errorf("render invoice: %w", err)
	}
	if counter, ok := s.Renderer.(pageCounter); ok {
		if pages, err := counter.PageCount(data); err == nil {
			inv.PageCount = pages
		} else {
			telemetry.Warn("invoice.page_count.failed", map[string]any{"invoice_id": inv.ID, "error": err})
		}
	}

	path, err := s.Staging.Write(ctx, inv.ID, data)
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	inv.LocalStagingPath = path

	saved, err := s.Repo.Save(ctx, inv)
	if err != nil {
		if rmErr := s.Staging.Remove(path); rmErr != nil {
			telemetry.Error("invoice.staging.cleanup_failed", map[string]any{"invoice_id": inv.ID, "path": path, "error": rmErr})
		}
		return Invoice{}, fmt.Errorf("save invoice: %w", err)
	}

	metrics.IncInvoicesCreated()
	telemetry.Info("invoice.created", telemetry.Fields(ctx, map[string]any{
		"invoice_id":  saved.ID,
		"customer_id": saved.CustomerID,
		"pages":       saved.PageCount,
		"bytes":       len(data),
	}))

	if s.Queue != nil {
		if err := s.Queue.Publish(ctx, saved.ID); err != nil {
			telemetry.Error("invoice.enqueue.failed", telemetry.Fields(ctx, map[string]any{"invoice_id": saved.ID, "error": err}))
			return saved, fmt.Errorf("%w: %w", ErrEnqueue, err)
		}
		telemetry.Info("invoice.enqueued", telemetry.Fields(ctx, map[string]any{"invoice_id": saved.ID}))
	}
	return saved, nil
}

// UploadToBlobStore moves the staged document to the blob store. Invoices that
// are already uploaded are returned unchanged without touching the blob store.
func (s *Service) UploadToBlobStore(ctx context.Context, invoiceID string) (Invoice, error) {
	inv, err := s.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Uploaded {
		metrics.IncUploadsSkipped()
		telemetry.Info("invoice.upload.skipped", telemetry.Fields(ctx, map[string]any{"invoice_id": inv.ID, "blob_key": inv.BlobKey}))
		return inv, nil
	}

	if err := s.faults().ShouldFail(inv); err != nil {
		return Invoice{}, err
	}

	stagedPath := inv.LocalStagingPath
	if stagedPath == "" {
		stagedPath = s.Staging.PathFor(inv.ID)
	}
	data, err := s.Staging.Read(ctx, stagedPath)
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	key := inv.BlobKeyFor(inv.CustomerID)
	if err := s.Store.Put(ctx, key, data); err != nil {
		return Invoice{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	inv.BlobKey = key
	inv.Uploaded = true
	inv.LocalStagingPath = ""
	inv.UpdatedAt = s.now()
	saved, err := s.Repo.Save(ctx, inv)
	if err != nil {
		return Invoice{}, fmt.Errorf("save invoice: %w", err)
	}

	if err := s.Staging.Remove(stagedPath); err != nil {
		telemetry.Warn("invoice.staging.cleanup_failed", map[string]any{"invoice_id": saved.ID, "path": stagedPath, "error": err})
	}

	telemetry.Info("invoice.uploaded", telemetry.Fields(ctx, map[string]any{
		"invoice_id": saved.ID,
		"blob_key":   saved.BlobKey,
		"bytes":      len(data),
	}))
	return saved, nil
}

// DownloadDocument returns the uploaded document bytes.
func (s *Service) DownloadDocument(ctx context.Context, invoiceID string) ([]byte, error) {
	inv, err := s.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.Uploaded {
		return nil, ErrNotUploaded
	}
	data, err := s.Store.Get(ctx, inv.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteStore, err)
	}
	return data, nil
}

// DeleteInvoice removes the remote object first so a failed remote delete keeps
// the record around for a retry.
func (s *Service) DeleteInvoice(ctx context.Context, invoiceID string) error {
	inv, err := s.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		return err
	}

	if inv.Uploaded {
		if err := s.Store.Delete(ctx, inv.BlobKey); err != nil {
			return fmt.Errorf("%w: %w", ErrRemoteStore, err)
		}
	}
	if inv.LocalStagingPath != "" {
		if err := s.Staging.Remove(inv.LocalStagingPath); err != nil {
			telemetry.Warn("invoice.staging.cleanup_failed", map[string]any{"invoice_id": inv.ID, "path": inv.LocalStagingPath, "error": err})
		}
	}

	if err := s.Repo.Delete(ctx, inv); err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	telemetry.Info("invoice.deleted", telemetry.Fields(ctx, map[string]any{"invoice_id": inv.ID, "customer_id": inv.CustomerID, "uploaded": inv.Uploaded}))
	return nil
}

// ReassignCustomer changes the owning customer. Uploaded documents are copied
// to the new key, the record is saved, and only then is the old key deleted.
func (s *Service) ReassignCustomer(ctx context.Context, invoiceID, newCustomerID string) (Invoice, error) {
	newCustomerID = strings.TrimSpace(newCustomerID)
	if err := validateCustomer(newCustomerID); err != nil {
		return Invoice{}, err
	}

	inv, err := s.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.CustomerID == newCustomerID {
		return inv, nil
	}
	previousCustomer := inv.CustomerID

	if !inv.Uploaded {
		inv.CustomerID = newCustomerID
		inv.UpdatedAt = s.now()
		saved, err := s.Repo.Save(ctx, inv)
		if err != nil {
			return Invoice{}, fmt.Errorf("save invoice: %w", err)
		}
		telemetry.Info("invoice.reassigned", telemetry.Fields(ctx, map[string]any{"invoice_id": saved.ID, "from": previousCustomer, "to": newCustomerID}))
		return saved, nil
	}

	oldKey := inv.BlobKey
	newKey := inv.BlobKeyFor(newCustomerID)
	if err := s.Store.Copy(ctx, oldKey, newKey); err != nil {
		return Invoice{}, fmt.Errorf("%w: %w", ErrRemoteStore, err)
	}

	inv.CustomerID = newCustomerID
	inv.BlobKey = newKey
	inv.UpdatedAt = s.now()
	saved, err := s.Repo.Save(ctx, inv)
	if err != nil {
		if delErr := s.Store.Delete(ctx, newKey); delErr != nil {
			telemetry.Error("invoice.reassign.orphan", map[string]any{"invoice_id": inv.ID, "blob_key": newKey, "error": delErr})
		}
		return Invoice{}, fmt.Errorf("save invoice: %w", err)
	}

	if err := s.Store.Delete(ctx, oldKey); err != nil {
		telemetry.Error("invoice.reassign.orphan", map[string]any{"invoice_id": saved.ID, "blob_key": oldKey, "error": err})
	}
	telemetry.Info("invoice.reassigned", telemetry.Fields(ctx, map[string]any{
		"invoice_id": saved.ID,
		"from":       previousCustomer,
		"to":         newCustomerID,
		"blob_key":   newKey,
	}))
	return saved, nil
}

// FindInvoiceByID returns the invoice for id.
func (s *Service) FindInvoiceByID(ctx context.Context, invoiceID string) (Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return Invoice{}, fmt.Errorf("%w: invoice id is required", ErrValidation)
	}
	inv, err := s.Repo.FindByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Invoice{}, fmt.Errorf("%w: %s", ErrNotFound, invoiceID)
		}
		return Invoice{}, err
	}
	return inv, nil
}

// ListByCustomer lists a customer's invoices newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]Invoice, error) {
	customerID = strings.TrimSpace(customerID)
	if err := validateCustomer(customerID); err != nil {
		return nil, err
	}
	return s.Repo.FindByCustomer(ctx, customerID)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) faults() FaultInjector {
	if s.Faults == nil {
		return NoFaults{}
	}
	return s.Faults
}

func validateCustomer(customerID string) error {
	err := validate.Struct(customerInput{CustomerID: customerID})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Tag() {
		case "required":
			return fmt.Errorf("%w: customerId is required", ErrValidation)
		case "max":
			return fmt.Errorf("%w: customerId is too long", ErrValidation)
		default:
			return fmt.Errorf("%w: customerId must not contain '/'", ErrValidation)
		}
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
