package service

import (
	"context"
	"fmt"

	"petstore-fulfillment/internal/models"
	"petstore-fulfillment/internal/util"

	"go.uber.org/zap"
)

// CartService converts cart lines into priced, stock-checked order-line
// candidates. It is a pure read + validation pass with no side effects;
// the returned lines become the immutable snapshot baked into the order.
type CartService struct {
	store  Store
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store Store) *CartService {
	return &CartService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// PriceCart resolves every cart line against the current catalog, checks
// availability, and returns the priced lines plus subtotal. Prices are the
// catalog prices at call time.
func (cs *CartService) PriceCart(ctx context.Context, lines []models.CartLine) ([]models.OrderLine, int64, error) {
	ctx, span := util.StartSpan(ctx, "CartService.PriceCart")
	defer span.End()

	if len(lines) == 0 {
		return nil, 0, fmt.Errorf("cart is empty")
	}

	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool)
	for _, line := range lines {
		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			ids = append(ids, line.ProductID)
		}
	}

	products, err := cs.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	priced := make([]models.OrderLine, 0, len(lines))
	var subtotal int64
	for _, line := range lines {
		product, ok := byID[line.ProductID]
		if !ok || !product.IsActive {
			return nil, 0, fmt.Errorf("product %d: %w", line.ProductID, models.ErrProductUnavailable)
		}

		variant := product.VariantByLabel(line.SizeLabel)
		if variant == nil || variant.Quantity < line.Quantity {
			return nil, 0, &models.OutOfStockError{
				ProductID: line.ProductID,
				SizeLabel: line.SizeLabel,
				Requested: line.Quantity,
			}
		}

		priced = append(priced, models.OrderLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			SizeLabel:   variant.Label,
			Quantity:    line.Quantity,
			UnitPrice:   variant.Price,
		})
		subtotal += variant.Price * int64(line.Quantity)
	}

	return priced, subtotal, nil
}
