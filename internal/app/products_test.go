package app

import (
	"context"
	"testing"

	"github.com/Amund211/flashfetch/internal/adapters/productrepository"
	"github.com/Amund211/flashfetch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProductRepository struct {
	t *testing.T

	addCalled bool
	err       error
}

func (m *mockProductRepository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return nil, m.err
}

func (m *mockProductRepository) AddProduct(ctx context.Context, product domain.NewProduct) (domain.Product, error) {
	m.t.Helper()
	m.addCalled = true
	return domain.Product{}, m.err
}

func (m *mockProductRepository) DeleteProduct(ctx context.Context, id int) error {
	return m.err
}

func TestProducts(t *testing.T) {
	t.Parallel()

	t.Run("add list delete", func(t *testing.T) {
		t.Parallel()

		repo := productrepository.NewMemory(domain.NewProduct{Name: "Keyboard", Price: 49.99})
		listProducts := BuildListProducts(repo)
		addProduct := BuildAddProduct(repo)
		deleteProduct := BuildDeleteProduct(repo)

		added, err := addProduct(t.Context(), domain.NewProduct{Name: "Mouse", Price: 19.5})
		require.NoError(t, err)
		require.Equal(t, "Mouse", added.Name)

		products, err := listProducts(t.Context())
		require.NoError(t, err)
		require.Len(t, products, 2)

		require.NoError(t, deleteProduct(t.Context(), added.ID))

		products, err = listProducts(t.Context())
		require.NoError(t, err)
		require.Equal(t, []domain.Product{{ID: 1, Name: "Keyboard", Price: 49.99}}, products)

		err = deleteProduct(t.Context(), added.ID)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("invalid product never reaches the repository", func(t *testing.T) {
		t.Parallel()

		repo := &mockProductRepository{t: t}
		_, err := BuildAddProduct(repo)(t.Context(), domain.NewProduct{Name: "", Price: 1})
		require.ErrorIs(t, err, domain.ErrInvalidInput)
		require.False(t, repo.addCalled)
	})

	t.Run("repository errors are returned", func(t *testing.T) {
		t.Parallel()

		repo := &mockProductRepository{t: t, err: assert.AnError}

		_, err := BuildListProducts(repo)(t.Context())
		require.ErrorIs(t, err, assert.AnError)

		_, err = BuildAddProduct(repo)(t.Context(), domain.NewProduct{Name: "Mouse", Price: 1})
		require.ErrorIs(t, err, assert.AnError)
		require.True(t, repo.addCalled)

		err = BuildDeleteProduct(repo)(t.Context(), 1)
		require.ErrorIs(t, err, assert.AnError)
	})
}
