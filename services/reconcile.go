package services

import (
	"time"

	"github.com/yashrajoria/pix-payment-service/models"
	"github.com/yashrajoria/pix-payment-service/providers"
)

// Reconcile maps a processor status onto the next order status. Only
// PENDING orders move; terminal orders are returned unchanged. A pending
// charge whose PIX code has passed expiresAt resolves to EXPIRED.
func Reconcile(current models.OrderStatus, expiresAt time.Time, processorStatus string, now time.Time) models.OrderStatus {
	if current != models.OrderStatusPending {
		return current
	}

	switch processorStatus {
	case providers.StatusApproved:
		return models.OrderStatusPaid
	case providers.StatusRejected, providers.StatusCancelled, providers.StatusRefunded:
		return models.OrderStatusExpired
	case providers.StatusPending:
		if !expiresAt.IsZero() && now.After(expiresAt) {
			return models.OrderStatusExpired
		}
		return models.OrderStatusPending
	default:
		return current
	}
}

// StatusMessage is the human-readable message returned by the status endpoint.
func StatusMessage(order *models.Order) string {
	switch order.Status {
	case models.OrderStatusPaid:
		return "Pagamento aprovado!"
	case models.OrderStatusExpired:
		switch order.ExternalStatus {
		case providers.StatusRejected, providers.StatusCancelled:
			return "Pagamento rejeitado ou cancelado"
		case providers.StatusRefunded:
			return "Pagamento reembolsado"
		}
		return "Pagamento expirado"
	case models.OrderStatusCancelled:
		return "Pagamento cancelado"
	case models.OrderStatusFailed:
		return "Falha ao processar pagamento"
	default:
		return "Pagamento pendente"
	}
}
