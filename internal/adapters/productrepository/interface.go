package productrepository

import (
	"context"

	"github.com/Amund211/flashfetch/internal/domain"
)

type ProductRepository interface {
	// Returns all products ordered by id
	ListProducts(ctx context.Context) ([]domain.Product, error)

	// Assigns the next id to the product and stores it
	AddProduct(ctx context.Context, product domain.NewProduct) (domain.Product, error)

	// Returns domain.ErrNotFound if no product has the given id
	DeleteProduct(ctx context.Context, id int) error
}
