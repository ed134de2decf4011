package inventory

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"parkhub/internal/config"
	"parkhub/internal/models"
)

// LotStore is the administrative side of the spot store.
type LotStore interface {
	ListLots(ctx context.Context) ([]models.LotSummary, error)
	GetLot(ctx context.Context, lotID string) (*models.Lot, error)
	CreateLot(ctx context.Context, lotID string, spotNumbers []string) error
	AddSpots(ctx context.Context, lotID string, spotNumbers []string) (int, error)
	UpsertLot(ctx context.Context, lotID string, spotNumbers []string) (int, error)
	DeleteLot(ctx context.Context, lotID string) error
}

// Service manages lots and spots.
type Service struct {
	store  LotStore
	logger *zerolog.Logger
}

func NewService(store LotStore, logger *zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func (s *Service) ListLots(ctx context.Context) ([]models.LotSummary, error) {
	return s.store.ListLots(ctx)
}

func (s *Service) GetLot(ctx context.Context, lotID string) (*models.Lot, error) {
	return s.store.GetLot(ctx, strings.TrimSpace(lotID))
}

// ProvisionLot creates a lot with the given spots.
func (s *Service) ProvisionLot(ctx context.Context, lotID string, spotNumbers []string) (*models.Lot, error) {
	lotID = strings.TrimSpace(lotID)
	numbers := normalizeSpots(spotNumbers)
	if lotID == "" {
		return nil, models.Validationf("lotId is required")
	}
	if len(numbers) == 0 {
		return nil, models.Validationf("at least one spot number is required")
	}
	if err := s.store.CreateLot(ctx, lotID, numbers); err != nil {
		return nil, err
	}
	s.logger.Info().Str("lot_id", lotID).Int("spots", len(numbers)).Msg("Lot provisioned")
	return s.store.GetLot(ctx, lotID)
}

// AddSpots adds spots to an existing lot and returns how many were new.
func (s *Service) AddSpots(ctx context.Context, lotID string, spotNumbers []string) (int, error) {
	lotID = strings.TrimSpace(lotID)
	numbers := normalizeSpots(spotNumbers)
	if lotID == "" || len(numbers) == 0 {
		return 0, models.Validationf("lotId and spot numbers are required")
	}
	added, err := s.store.AddSpots(ctx, lotID, numbers)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("lot_id", lotID).Int("added", added).Msg("Spots added")
	return added, nil
}

// DeleteLot removes a lot that has no reserved spots.
func (s *Service) DeleteLot(ctx context.Context, lotID string) error {
	lotID = strings.TrimSpace(lotID)
	if lotID == "" {
		return models.Validationf("lotId is required")
	}
	if err := s.store.DeleteLot(ctx, lotID); err != nil {
		return err
	}
	s.logger.Info().Str("lot_id", lotID).Msg("Lot deleted")
	return nil
}

// ApplyLotsFile seeds lots from the lots file. Existing spots are kept, so
// applying the same file twice is a no-op. Spots removed from the file are
// not deleted.
func (s *Service) ApplyLotsFile(ctx context.Context, cfg *config.LotsConfig) error {
	for _, lot := range cfg.Lots {
		numbers := normalizeSpots(lot.Spots)
		if len(numbers) == 0 {
			continue
		}
		added, err := s.store.UpsertLot(ctx, lot.ID, numbers)
		if err != nil {
			return err
		}
		if added > 0 {
			s.logger.Info().Str("lot_id", lot.ID).Int("added", added).Msg("Lot seeded from file")
		}
	}
	return nil
}

func normalizeSpots(numbers []string) []string {
	seen := make(map[string]bool, len(numbers))
	out := make([]string, 0, len(numbers))
	for _, n := range numbers {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
