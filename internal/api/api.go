package api

import (
	"context"
	"net/http"

	"checkout-service/internal/entity"
	"checkout-service/internal/service"

	"github.com/labstack/echo/v4"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest, idempotencyKey string) (*service.CreateOrderResult, error)
	VerifyPayment(ctx context.Context, merchantTransactionID string) (*service.Verification, error)
	ListOrders(ctx context.Context, userID string) ([]*entity.Order, error)
	GetOrder(ctx context.Context, id string) (*entity.Order, error)
	HandleGatewayCallback(ctx context.Context, response, checksum string) service.RedirectResult
	HandleGatewayRedirect(ctx context.Context, merchantTransactionID, hintCode string) service.RedirectResult
	GetCart(ctx context.Context, userID string) (*entity.Cart, error)
	SaveCart(ctx context.Context, cart *entity.Cart) error
}

type OrderHandler struct {
	orderService OrderService
}

func NewOrderHandler(orderService OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

func (h *OrderHandler) CreateOrder(c echo.Context) error {
	var req service.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request payload")
	}

	res, err := h.orderService.CreateOrder(c.Request().Context(), req, c.Request().Header.Get("Idempotency-Key"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success":       true,
		"paymentUrl":    res.RedirectURL,
		"transactionId": res.MerchantTransactionID,
		"orderId":       res.OrderID,
	})
}

func (h *OrderHandler) VerifyPayment(c echo.Context) error {
	v, err := h.orderService.VerifyPayment(c.Request().Context(), c.QueryParam("transactionId"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": v.Success,
		"data": map[string]interface{}{
			"transactionId":          v.TransactionID,
			"status":                 v.Status,
			"amount":                 v.Amount,
			"requiresReconciliation": v.RequiresReconciliation,
		},
	})
}

func (h *OrderHandler) ListOrders(c echo.Context) error {
	orders, err := h.orderService.ListOrders(c.Request().Context(), c.Param("userId"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(orders),
		"data":    orders,
	})
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	order, err := h.orderService.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    order,
	})
}

type callbackRequest struct {
	Response string `json:"response" form:"response"`
	Checksum string `json:"checksum" form:"checksum"`
}

// PhonePeCallback handles the gateway's server-to-server notification.
func (h *OrderHandler) PhonePeCallback(c echo.Context) error {
	var req callbackRequest
	// an unreadable body is rejected the same way as a bad checksum
	_ = c.Bind(&req)
	if req.Checksum == "" {
		req.Checksum = c.Request().Header.Get("X-VERIFY")
	}

	res := h.orderService.HandleGatewayCallback(c.Request().Context(), req.Response, req.Checksum)
	return c.Redirect(http.StatusSeeOther, res.Target)
}

// PhonePeRedirect handles the browser returning from the payment page.
func (h *OrderHandler) PhonePeRedirect(c echo.Context) error {
	res := h.orderService.HandleGatewayRedirect(c.Request().Context(), c.QueryParam("mtId"), c.FormValue("code"))
	return c.Redirect(http.StatusSeeOther, res.Target)
}

func (h *OrderHandler) GetCart(c echo.Context) error {
	cart, err := h.orderService.GetCart(c.Request().Context(), c.Param("userId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "data": cart})
}

func (h *OrderHandler) SaveCart(c echo.Context) error {
	var cart entity.Cart
	if err := c.Bind(&cart); err != nil {
		return badRequest(c, "invalid request payload")
	}
	cart.UserID = c.Param("userId")

	if err := h.orderService.SaveCart(c.Request().Context(), &cart); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "data": cart})
}
