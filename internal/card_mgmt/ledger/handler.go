package ledger

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes は台帳参照APIを登録する
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	r.GET("/cards/:idm/ledger", func(c *gin.Context) {
		idm := c.Param("idm")
		limit := parseIntDefault(c.Query("limit"), defaultLimit)
		offset := parseIntDefault(c.Query("offset"), 0)

		res, err := svc.ListByCard(c.Request.Context(), idm, limit, offset)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	r.GET("/cards/:idm/balance", func(c *gin.Context) {
		res, err := svc.Balance(c.Request.Context(), c.Param("idm"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})
}

// RegisterAdminRoutes は整合性チェックの手動実行を登録する
func RegisterAdminRoutes(r gin.IRoutes, checker *Checker) {
	r.POST("/admin/consistency-check", func(c *gin.Context) {
		report, err := checker.Check(c.Request.Context())
		if err != nil {
			writeError(c, ErrInternal("consistency check failed: "+err.Error()))
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

func writeError(c *gin.Context, err error) {
	if apiErr, ok := err.(*APIError); ok {
		c.JSON(toHTTPStatus(apiErr), gin.H{"error": apiErr})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": ErrInternal(err.Error())})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
