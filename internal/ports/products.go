package ports

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Amund211/flashfetch/internal/app"
	"github.com/Amund211/flashfetch/internal/domain"
	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/Amund211/flashfetch/internal/reporting"
)

const maxProductBodySize = 1 << 14

type productsResponse struct {
	Success  bool             `json:"success"`
	Products []domain.Product `json:"products"`
}

type productResponse struct {
	Success bool           `json:"success"`
	Product domain.Product `json:"product"`
}

type deletedResponse struct {
	Success bool `json:"success"`
}

func MakeListProductsHandler(
	listProducts app.ListProducts,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("products", defaultLimits, rootLogger, sentryMiddleware)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		products, err := listProducts(ctx)
		if err != nil {
			writeDomainError(ctx, w, err)
			return
		}

		writeJSONResponse(ctx, w, http.StatusOK, productsResponse{Success: true, Products: products})
	})
}

func MakeAddProductHandler(
	addProduct app.AddProduct,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("products", defaultLimits, rootLogger, sentryMiddleware)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var newProduct domain.NewProduct
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProductBodySize))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&newProduct); err != nil {
			logging.FromContext(ctx).InfoContext(ctx, "Invalid product. Returning error", "statusCode", http.StatusBadRequest, "error", err)
			writeErrorResponse(ctx, w, http.StatusBadRequest, "Invalid JSON body")
			return
		}

		ctx = logging.AddMetaToContext(ctx, slog.String("productName", newProduct.Name))

		product, err := addProduct(ctx, newProduct)
		if err != nil {
			writeDomainError(ctx, w, err)
			return
		}

		writeJSONResponse(ctx, w, http.StatusCreated, productResponse{Success: true, Product: product})
	})
}

func MakeDeleteProductHandler(
	deleteProduct app.DeleteProduct,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("products", defaultLimits, rootLogger, sentryMiddleware)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		rawID := r.URL.Query().Get("id")
		ctx = logging.AddMetaToContext(ctx, slog.String("rawID", rawID))
		ctx = reporting.AddExtrasToContext(ctx, map[string]string{"rawID": rawID})

		id, err := strconv.Atoi(rawID)
		if err != nil || id <= 0 {
			logging.FromContext(ctx).InfoContext(ctx, "Invalid id. Returning error", "statusCode", http.StatusBadRequest, "reason", "invalid id")
			writeErrorResponse(ctx, w, http.StatusBadRequest, "Invalid id")
			return
		}

		if err := deleteProduct(ctx, id); err != nil {
			writeDomainError(ctx, w, err)
			return
		}

		writeJSONResponse(ctx, w, http.StatusOK, deletedResponse{Success: true})
	})
}
