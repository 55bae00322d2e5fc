package productrepository

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Amund211/flashfetch/internal/domain"
	"github.com/Amund211/flashfetch/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Memory keeps products for the lifetime of the process
type Memory struct {
	tracer trace.Tracer

	mu       sync.Mutex
	products []domain.Product
	lastID   int
}

func NewMemory(seed ...domain.NewProduct) *Memory {
	m := &Memory{
		tracer: otel.Tracer("flashfetch/productrepository/memory"),
	}
	for _, product := range seed {
		m.add(product)
	}
	return m
}

func (m *Memory) ListProducts(ctx context.Context) ([]domain.Product, error) {
	_, span := m.tracer.Start(ctx, "Memory.ListProducts")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	products := make([]domain.Product, len(m.products))
	copy(products, m.products)
	return products, nil
}

func (m *Memory) AddProduct(ctx context.Context, product domain.NewProduct) (domain.Product, error) {
	ctx, span := m.tracer.Start(ctx, "Memory.AddProduct")
	defer span.End()

	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	m.mu.Lock()
	added := m.add(product)
	m.mu.Unlock()

	span.SetAttributes(attribute.Int("product.id", added.ID))
	logging.FromContext(ctx).InfoContext(ctx, "Added product", slog.Int("id", added.ID), slog.String("name", added.Name))

	return added, nil
}

func (m *Memory) DeleteProduct(ctx context.Context, id int) error {
	ctx, span := m.tracer.Start(ctx, "Memory.DeleteProduct", trace.WithAttributes(attribute.Int("product.id", id)))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.IndexFunc(m.products, func(p domain.Product) bool {
		return p.ID == id
	})
	if i == -1 {
		return fmt.Errorf("%w: product %d", domain.ErrNotFound, id)
	}
	m.products = slices.Delete(m.products, i, i+1)

	logging.FromContext(ctx).InfoContext(ctx, "Deleted product", slog.Int("id", id))
	return nil
}

// add must be called with mu held, or before m is shared
func (m *Memory) add(product domain.NewProduct) domain.Product {
	m.lastID++
	added := domain.Product{
		ID:    m.lastID,
		Name:  product.Name,
		Price: product.Price,
	}
	m.products = append(m.products, added)
	return added
}
