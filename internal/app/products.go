package app

import (
	"context"
	"fmt"

	"github.com/Amund211/flashfetch/internal/domain"
)

type productRepository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	AddProduct(ctx context.Context, product domain.NewProduct) (domain.Product, error)
	DeleteProduct(ctx context.Context, id int) error
}

type ListProducts func(ctx context.Context) ([]domain.Product, error)

func BuildListProducts(repo productRepository) ListProducts {
	return func(ctx context.Context) ([]domain.Product, error) {
		return repo.ListProducts(ctx)
	}
}

type AddProduct func(ctx context.Context, product domain.NewProduct) (domain.Product, error)

func BuildAddProduct(repo productRepository) AddProduct {
	return func(ctx context.Context, product domain.NewProduct) (domain.Product, error) {
		if err := product.Validate(); err != nil {
			return domain.Product{}, err
		}

		added, err := repo.AddProduct(ctx, product)
		if err != nil {
			return domain.Product{}, fmt.Errorf("could not add product: %w", err)
		}
		return added, nil
	}
}

type DeleteProduct func(ctx context.Context, id int) error

func BuildDeleteProduct(repo productRepository) DeleteProduct {
	return func(ctx context.Context, id int) error {
		if err := repo.DeleteProduct(ctx, id); err != nil {
			return fmt.Errorf("could not delete product: %w", err)
		}
		return nil
	}
}
