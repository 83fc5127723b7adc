package service

import (
	"context"
	"testing"

	"petstore-fulfillment/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceCartSubtotalAndSnapshot(t *testing.T) {
	store, _, _ := newTestEnv()
	cart := NewCartService(store)

	lines, subtotal, err := cart.PriceCart(context.Background(), []models.CartLine{
		{ProductID: 1, SizeLabel: "M", Quantity: 2},
		{ProductID: 1, SizeLabel: "L", Quantity: 1},
		{ProductID: 2, SizeLabel: "S", Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, int64(2*150000+180000+5000000), subtotal)
	assert.Equal(t, "Dog Collar", lines[0].ProductName)
	assert.Equal(t, int64(150000), lines[0].UnitPrice)
	assert.Equal(t, "S", lines[2].SizeLabel)

	// Pricing is a read: stock stays untouched.
	assert.Equal(t, 5, store.variantQuantity(1, "M"))
	assert.Equal(t, 2, store.variantQuantity(1, "L"))
}

func TestPriceCartEmpty(t *testing.T) {
	store, _, _ := newTestEnv()
	cart := NewCartService(store)

	_, _, err := cart.PriceCart(context.Background(), nil)
	assert.Error(t, err)
}

func TestPriceCartUnknownProduct(t *testing.T) {
	store, _, _ := newTestEnv()
	cart := NewCartService(store)

	_, _, err := cart.PriceCart(context.Background(), []models.CartLine{
		{ProductID: 99, SizeLabel: "M", Quantity: 1},
	})
	assert.ErrorIs(t, err, models.ErrProductUnavailable)
}

func TestPriceCartInactiveProduct(t *testing.T) {
	store, _, _ := newTestEnv()
	store.addProduct(models.Product{
		ID:       3,
		Name:     "Discontinued Leash",
		IsActive: false,
		Sizes:    []models.SizeVariant{{ProductID: 3, Label: "M", Quantity: 10, Price: 90000}},
	})
	cart := NewCartService(store)

	_, _, err := cart.PriceCart(context.Background(), []models.CartLine{
		{ProductID: 3, SizeLabel: "M", Quantity: 1},
	})
	assert.ErrorIs(t, err, models.ErrProductUnavailable)
}

func TestPriceCartUnknownSizeLabel(t *testing.T) {
	store, _, _ := newTestEnv()
	cart := NewCartService(store)

	_, _, err := cart.PriceCart(context.Background(), []models.CartLine{
		{ProductID: 1, SizeLabel: "XXL", Quantity: 1},
	})

	var oos *models.OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, int64(1), oos.ProductID)
	assert.Equal(t, "XXL", oos.SizeLabel)
}

func TestPriceCartInsufficientStockNamesTheLine(t *testing.T) {
	store, _, _ := newTestEnv()
	cart := NewCartService(store)

	_, _, err := cart.PriceCart(context.Background(), []models.CartLine{
		{ProductID: 1, SizeLabel: "M", Quantity: 1},
		{ProductID: 1, SizeLabel: "L", Quantity: 3}, // only 2 in stock
	})

	var oos *models.OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.ErrorIs(t, err, models.ErrOutOfStock)
	assert.Equal(t, int64(1), oos.ProductID)
	assert.Equal(t, "L", oos.SizeLabel)
	assert.Equal(t, 3, oos.Requested)
}
