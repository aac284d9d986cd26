package lending

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"iccard-backend/internal/card_mgmt/ledger"
)

type executeRequest struct {
	CardIdm  string `json:"card_idm" binding:"required"`
	StaffIdm string `json:"staff_idm" binding:"required"`
}

// RegisterRoutes は取引を直接実行するAPIを登録する（動作確認・復旧用）。
// フロントデスクを経由しないため、同じカードの取引が進行中なら
// 待たずに 409 を返す。
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	r.POST("/lending/transactions", func(c *gin.Context) {
		var req executeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, ErrInvalid("invalid request body: "+err.Error()))
			return
		}

		res, err := svc.ExecuteNoWait(c.Request.Context(), req.CardIdm, req.StaffIdm, svc.Now())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})
}

func writeError(c *gin.Context, err error) {
	var (
		apiErr    *APIError
		ledgerErr *ledger.APIError
		uce       *UnregisteredCardError
		use       *UnregisteredStaffError
		nbe       *ledger.NegativeBalanceError
	)
	switch {
	case errors.As(err, &apiErr):
		c.JSON(toHTTPStatus(apiErr), gin.H{"error": apiErr})
	case errors.As(err, &ledgerErr):
		c.JSON(toHTTPStatus(&APIError{Code: ledgerErr.Code}), gin.H{"error": ledgerErr})
	case errors.As(err, &uce):
		c.JSON(http.StatusNotFound, gin.H{"error": &APIError{Code: "NOT_FOUND", Message: uce.Error()}})
	case errors.As(err, &use):
		c.JSON(http.StatusNotFound, gin.H{"error": &APIError{Code: "NOT_FOUND", Message: use.Error()}})
	case errors.As(err, &nbe):
		// 台帳の手直しが要る整合性違反。再試行しても直らない。
		c.JSON(http.StatusInternalServerError, gin.H{"error": &APIError{Code: "INTERNAL", Message: nbe.Error()}})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": ErrInternal(err.Error())})
	}
}
