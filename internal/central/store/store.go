// Package store defines the central server's persistence contract. The
// ingest methods are idempotent on the edge-assigned entity id: applying
// the same operation twice reports applied=false the second time instead
// of erroring, which is what makes at-least-once push safe.
package store

import (
	"context"
	"errors"
	"time"

	"dukkanpos/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidCode = errors.New("invalid activation code")
)

type Repository interface {
	// Catalog feed for pull. A nil since means everything (epoch pull).
	CategoriesModifiedSince(ctx context.Context, since *time.Time) ([]domain.Category, error)
	ProductsModifiedSince(ctx context.Context, since *time.Time) ([]domain.Product, error)
	UsersModifiedSince(ctx context.Context, storeID string, since *time.Time) ([]domain.User, error)
	StoreModifiedSince(ctx context.Context, storeID string, since *time.Time) (*domain.Store, error)

	// Devices.
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)
	FindDeviceByActivationCode(ctx context.Context, code string) (*domain.Device, error)
	ActivateDevice(ctx context.Context, deviceID string, at time.Time) (*domain.Device, error)
	TouchDeviceSync(ctx context.Context, deviceID string, at time.Time) error

	// Ingest, idempotent by entity id. applied=false means the entity was
	// already recorded by an earlier delivery.
	IngestSale(ctx context.Context, sale domain.Sale) (applied bool, err error)
	IngestRefund(ctx context.Context, refund domain.Refund) (applied bool, err error)
	IngestStockAdjustment(ctx context.Context, adj domain.StockAdjustment) (applied bool, err error)
	IngestShiftOpen(ctx context.Context, shift domain.Shift) (applied bool, err error)
	IngestShiftClose(ctx context.Context, closeReq domain.ShiftClosePayload) (applied bool, err error)

	// Auth.
	UserAccountByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
}
