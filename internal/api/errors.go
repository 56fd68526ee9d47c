package api

import (
	"net/http"

	"storefront_gateway/internal/apperr"
	"storefront_gateway/types"

	"github.com/gin-gonic/gin"
)

// errorResponse тело ответа при отказе
type errorResponse struct {
	Success   bool                    `json:"success"`
	Error     string                  `json:"error"`
	Code      apperr.Kind             `json:"code"`
	Reason    apperr.Reason           `json:"reason,omitempty"`
	Reference *types.PaymentReference `json:"reference,omitempty"`
}

// statusFor отображает класс ошибки в HTTP-статус
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindPaymentFailed:
		return http.StatusPaymentRequired
	case apperr.KindActionMismatch, apperr.KindProofRejected, apperr.KindInsufficientLevel:
		return http.StatusForbidden
	case apperr.KindUnknownReference:
		return http.StatusNotFound
	case apperr.KindAlreadyFinalized, apperr.KindTransactionReused:
		return http.StatusConflict
	case apperr.KindExpired:
		return http.StatusGone
	case apperr.KindVerifierUnreachable, apperr.KindStatusAuthorityUnreachable:
		if apperr.ReasonOf(err) == apperr.ReasonTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case apperr.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error, reference *types.PaymentReference) {
	status := statusFor(err)

	// Для 5xx отдаём только класс ошибки; подробности попадают в лог запроса
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = string(apperr.KindOf(err))
	}

	_ = c.Error(err)
	c.JSON(status, errorResponse{
		Success:   false,
		Error:     message,
		Code:      apperr.KindOf(err),
		Reason:    apperr.ReasonOf(err),
		Reference: reference,
	})
}
