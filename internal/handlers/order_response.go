package handlers

import (
	domain "github.com/lunaroja/api/internal/domain"
)

type orderResponse struct {
	ID            string                `json:"id"`
	Status        string                `json:"status"`
	PaymentMethod string                `json:"paymentMethod"`
	Customer      orderCustomerResponse `json:"customer"`
	Items         []orderItemResponse   `json:"items"`
	Totals        orderTotalsResponse   `json:"totals"`
	Shipping      orderShippingResponse `json:"shipping"`
	Transfer      *transferResponse     `json:"transfer,omitempty"`
	CreatedAt     string                `json:"createdAt"`
	UpdatedAt     string                `json:"updatedAt,omitempty"`
}

type orderCustomerResponse struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type orderItemResponse struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	VariantKey  string `json:"variantKey"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	LineTotal   int64  `json:"lineTotal"`
}

type orderTotalsResponse struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

type orderShippingResponse struct {
	MethodID string         `json:"methodId"`
	Detail   string         `json:"detail,omitempty"`
	Cost     int64          `json:"cost"`
	Address  addressPayload `json:"address"`
}

type transferResponse struct {
	BankName      string `json:"bankName"`
	AccountHolder string `json:"accountHolder"`
	AccountNumber string `json:"accountNumber,omitempty"`
	Alias         string `json:"alias,omitempty"`
	Reference     string `json:"reference"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
}

type statusChangeResponse struct {
	From              string `json:"from,omitempty"`
	To                string `json:"to"`
	Actor             string `json:"actor"`
	Reason            string `json:"reason,omitempty"`
	ExternalPaymentID string `json:"externalPaymentId,omitempty"`
	OccurredAt        string `json:"occurredAt"`
}

func newOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			VariantKey:  item.VariantKey,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}
	addr := order.Shipping.Address
	resp := orderResponse{
		ID:            order.ID,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		Customer: orderCustomerResponse{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		Items: items,
		Totals: orderTotalsResponse{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
		},
		Shipping: orderShippingResponse{
			MethodID: order.Shipping.MethodID,
			Detail:   order.Shipping.Detail,
			Cost:     order.Shipping.Cost,
			Address: addressPayload{
				Street:     addr.Street,
				Number:     addr.Number,
				Unit:       addr.Unit,
				City:       addr.City,
				Region:     addr.Region,
				PostalCode: addr.PostalCode,
				Country:    addr.Country,
			},
		},
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
	if order.Transfer != nil {
		resp.Transfer = newTransferResponse(*order.Transfer)
	}
	return resp
}

func newTransferResponse(t domain.TransferDetails) *transferResponse {
	return &transferResponse{
		BankName:      t.BankName,
		AccountHolder: t.AccountHolder,
		AccountNumber: t.AccountNumber,
		Alias:         t.Alias,
		Reference:     t.Reference,
		ExpiresAt:     formatTime(t.ExpiresAt),
	}
}

func newStatusChangeResponse(change domain.StatusChange) statusChangeResponse {
	return statusChangeResponse{
		From:              string(change.From),
		To:                string(change.To),
		Actor:             string(change.Actor),
		Reason:            change.Reason,
		ExternalPaymentID: change.ExternalPaymentID,
		OccurredAt:        formatTime(change.OccurredAt),
	}
}
