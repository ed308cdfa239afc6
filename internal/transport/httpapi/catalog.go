package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

const (
	defaultOrdersLimit = 50
	maxOrdersLimit     = 200
)

type catalogHandler struct {
	catalog Catalog
	orders  Orders
}

// ProductView — товар в ответах API. Цена дублируется строкой с двумя знаками для витрины.
type ProductView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PriceMinor  int64  `json:"price_minor"`
	Price       string `json:"price"`
	StockCount  int    `json:"stock_count"`
	ImageURL    string `json:"image_url,omitempty"`
}

// OrderItemView — позиция заказа.
type OrderItemView struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	UnitPrice      string `json:"unit_price"`
}

// OrderView — заказ в ответах API. Значения кодов сюда не попадают: они уходят только письмом.
type OrderView struct {
	ID                string          `json:"id"`
	BuyerID           string          `json:"buyer_id"`
	PaymentReference  string          `json:"payment_reference"`
	TotalMinor        int64           `json:"total_minor"`
	Total             string          `json:"total"`
	Status            string          `json:"status"`
	DeliveryStatus    string          `json:"delivery_status"`
	DeliveryAttempts  int             `json:"delivery_attempts"`
	LastDeliveryError string          `json:"last_delivery_error,omitempty"`
	Items             []OrderItemView `json:"items"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (h *catalogHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	views := make([]ProductView, 0, len(products))
	for _, product := range products {
		views = append(views, toProductView(product))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *catalogHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	writeJSON(w, http.StatusOK, toProductView(product))
}

func (h *catalogHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(order))
}

func (h *catalogHandler) listBuyerOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := h.orders.ListByBuyer(r.Context(), chi.URLParam(r, "buyerID"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	views := make([]OrderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, toOrderView(order))
	}
	writeJSON(w, http.StatusOK, views)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultOrdersLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(limit, maxOrdersLimit), nil
}

func toProductView(p domain.Product) ProductView {
	return ProductView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		PriceMinor:  p.PriceMinor,
		Price:       formatMinor(p.PriceMinor),
		StockCount:  p.StockCount,
		ImageURL:    p.ImageURL,
	}
}

func toOrderView(o domain.Order) OrderView {
	items := make([]OrderItemView, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemView{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
			UnitPrice:      formatMinor(item.UnitPriceMinor),
		})
	}
	return OrderView{
		ID:                o.ID,
		BuyerID:           o.BuyerID,
		PaymentReference:  o.PaymentReference,
		TotalMinor:        o.TotalMinor,
		Total:             formatMinor(o.TotalMinor),
		Status:            string(o.Status),
		DeliveryStatus:    string(o.DeliveryStatus),
		DeliveryAttempts:  o.DeliveryAttempts,
		LastDeliveryError: o.LastDeliveryError,
		Items:             items,
		CreatedAt:         o.CreatedAt,
	}
}

// formatMinor переводит минимальные единицы в строку с двумя знаками: 1999 → "19.99".
func formatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
