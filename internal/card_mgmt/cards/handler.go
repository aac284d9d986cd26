package cards

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/cards", h.List)
	r.GET("/cards/:idm", h.Get)
}

func (h *Handler) Get(c *gin.Context) {
	resp, err := h.svc.Get(c.Request.Context(), c.Param("idm"))
	if err != nil {
		c.JSON(toHTTPStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) List(c *gin.Context) {
	var f CardFilter
	if v := c.Query("lent"); v != "" {
		b := v == "1" || v == "true"
		f.Lent = &b
	}
	f.CardType = c.Query("type")
	f.NumberLike = c.Query("number")

	p := Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
	}

	resp, err := h.svc.List(c.Request.Context(), f, p)
	if err != nil {
		c.JSON(toHTTPStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
