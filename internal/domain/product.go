package domain

import (
	"fmt"
	"math"
	"strings"
)

type Product struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type NewProduct struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func (p NewProduct) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price < 0 {
		return fmt.Errorf("%w: product price must be a non-negative number", ErrInvalidInput)
	}
	return nil
}
