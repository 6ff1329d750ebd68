// Package service is the central sync application layer: device
// activation, push ingest and pull assembly on top of the Repository.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"dukkanpos/internal/central/cache"
	"dukkanpos/internal/central/store"
	"dukkanpos/internal/domain"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrNotActivated  = errors.New("device not activated")
)

type Service struct {
	repo       store.Repository
	catalog    cache.CatalogCache
	catalogTTL time.Duration
}

func New(repo store.Repository, catalog cache.CatalogCache, catalogTTL time.Duration) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if catalogTTL <= 0 {
		catalogTTL = 60 * time.Second
	}
	return &Service{repo: repo, catalog: catalog, catalogTTL: catalogTTL}
}

// ActivateDevice exchanges an activation code for a device identity.
// Repeating the call with the same code returns the same identity, so a
// terminal that crashed before persisting its config can just retry.
func (s *Service) ActivateDevice(ctx context.Context, req domain.ActivateRequest) (*domain.ActivateResponse, error) {
	if req.ActivationCode == "" {
		return nil, store.ErrInvalidCode
	}

	device, err := s.repo.FindDeviceByActivationCode(ctx, req.ActivationCode)
	if err != nil {
		return nil, err
	}
	device, err = s.repo.ActivateDevice(ctx, device.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	st, err := s.repo.StoreModifiedSince(ctx, device.StoreID, nil)
	if err != nil {
		return nil, err
	}

	log.Printf("[service] device %s activated for store %s", device.ID, device.StoreID)
	return &domain.ActivateResponse{
		DeviceID:  device.ID,
		StoreID:   device.StoreID,
		StoreName: st.Name,
	}, nil
}

// PushSync applies a device's queued operations in the order they were
// created and reports a status per operation. Replays come back as
// already_exists; malformed or unappliable operations come back as error
// and never abort the rest of the batch.
func (s *Service) PushSync(ctx context.Context, req domain.PushRequest) (*domain.PushResponse, error) {
	device, err := s.lookupActivatedDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	resp := &domain.PushResponse{
		Sales:            []domain.OperationStatus{},
		Refunds:          []domain.OperationStatus{},
		StockAdjustments: []domain.OperationStatus{},
		Shifts:           []domain.OperationStatus{},
	}

	for _, op := range req.Operations {
		status := s.applyOperation(ctx, device, op)
		switch op.EntityType {
		case domain.EntitySale:
			resp.Sales = append(resp.Sales, status)
		case domain.EntityRefund:
			resp.Refunds = append(resp.Refunds, status)
		case domain.EntityStockAdjustment:
			resp.StockAdjustments = append(resp.StockAdjustments, status)
		case domain.EntityShift:
			resp.Shifts = append(resp.Shifts, status)
		default:
			resp.Sales = append(resp.Sales, status)
		}
	}

	if err := s.repo.TouchDeviceSync(ctx, device.ID, time.Now().UTC()); err != nil {
		log.Printf("[service] WARN: failed to touch device sync %s: %v", device.ID, err)
	}
	return resp, nil
}

func (s *Service) applyOperation(ctx context.Context, device *domain.Device, op domain.PendingOperation) domain.OperationStatus {
	payload, err := domain.DecodePayload(op)
	if err != nil {
		return errorStatus(op.ID, err)
	}

	var applied bool
	switch {
	case payload.Sale != nil:
		applied, err = s.repo.IngestSale(ctx, *payload.Sale)
	case payload.Refund != nil:
		applied, err = s.repo.IngestRefund(ctx, *payload.Refund)
	case payload.StockAdjustment != nil:
		applied, err = s.repo.IngestStockAdjustment(ctx, *payload.StockAdjustment)
	case payload.ShiftOpen != nil:
		applied, err = s.repo.IngestShiftOpen(ctx, *payload.ShiftOpen)
	case payload.ShiftClose != nil:
		applied, err = s.repo.IngestShiftClose(ctx, *payload.ShiftClose)
	default:
		err = fmt.Errorf("empty payload for operation %s", op.ID)
	}
	if err != nil {
		log.Printf("[service] operation %s (%s %s) from device %s failed: %v", op.ID, op.EntityType, op.Operation, device.ID, err)
		return errorStatus(op.ID, err)
	}

	if !applied {
		return domain.OperationStatus{ID: op.ID, Status: domain.StatusAlreadyExists}
	}
	return domain.OperationStatus{ID: op.ID, Status: domain.StatusSynced}
}

// PullSync assembles the reference-data feed for a device. The response's
// SyncTimestamp is taken before the reads, so a row updated while the
// response is in flight reappears on the next pull instead of being lost.
func (s *Service) PullSync(ctx context.Context, req domain.PullRequest) (*domain.PullResponse, error) {
	device, err := s.lookupActivatedDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	syncTimestamp := time.Now().UTC()

	// Epoch pulls are the expensive case and identical for every terminal
	// of a store, so they are served from the catalog cache when possible.
	cacheKey := ""
	if req.LastSyncAt == nil {
		cacheKey = "catalog:epoch:" + device.StoreID
		// The cached copy keeps the timestamp taken when it was filled;
		// handing out a newer one would let rows updated since the fill
		// slip past the next incremental pull.
		if cached, ok, err := s.catalog.Get(ctx, cacheKey); err == nil && ok {
			return cached, nil
		}
	}

	categories, err := s.repo.CategoriesModifiedSince(ctx, req.LastSyncAt)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ProductsModifiedSince(ctx, req.LastSyncAt)
	if err != nil {
		return nil, err
	}
	users, err := s.repo.UsersModifiedSince(ctx, device.StoreID, req.LastSyncAt)
	if err != nil {
		return nil, err
	}
	st, err := s.repo.StoreModifiedSince(ctx, device.StoreID, req.LastSyncAt)
	if err != nil {
		return nil, err
	}

	resp := &domain.PullResponse{
		Products:      products,
		Categories:    categories,
		Users:         users,
		Store:         st,
		SyncTimestamp: syncTimestamp,
	}

	if cacheKey != "" {
		if err := s.catalog.Set(ctx, cacheKey, resp, s.catalogTTL); err != nil {
			log.Printf("[service] WARN: failed to cache catalog for store %s: %v", device.StoreID, err)
		}
	}
	return resp, nil
}

// Login verifies credentials against the central user directory.
func (s *Service) Login(ctx context.Context, username string) (*domain.UserAccount, error) {
	account, err := s.repo.UserAccountByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, store.ErrNotFound
	}
	return account, nil
}

func (s *Service) lookupActivatedDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	if deviceID == "" {
		return nil, ErrUnknownDevice
	}
	device, err := s.repo.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownDevice
		}
		return nil, err
	}
	if !device.Activated {
		return nil, ErrNotActivated
	}
	return device, nil
}

func errorStatus(id string, err error) domain.OperationStatus {
	return domain.OperationStatus{ID: id, Status: domain.StatusError, Error: err.Error()}
}
