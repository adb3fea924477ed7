package costing

import (
	"context"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort loads the allocator's inputs.
type RepositoryPort interface {
	// ListLots returns a SKU's purchase lots from approved invoices.
	ListLots(ctx context.Context, sku string) ([]Lot, error)
	// ListSales returns a SKU's unreversed sale lines from approved
	// invoices.
	ListSales(ctx context.Context, sku string) ([]Sale, error)
}

// Service loads lots and sales for a SKU and runs the allocator over them.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Report builds the FIFO profit report for one SKU.
func (s *Service) Report(ctx context.Context, sku string) (Result, error) {
	if sku == "" {
		return Result{}, shared.Validationf("sku required")
	}
	lots, err := s.repo.ListLots(ctx, sku)
	if err != nil {
		return Result{}, err
	}
	sales, err := s.repo.ListSales(ctx, sku)
	if err != nil {
		return Result{}, err
	}
	return Allocate(sku, lots, sales), nil
}
