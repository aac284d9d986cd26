package frontdesk

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigFastest

const keepAliveInterval = 30 * time.Second

// RegisterRoutes はフロントデスクの閲覧・操作APIを登録する
func RegisterRoutes(r gin.IRoutes, ctrl *Controller, hub *Hub) {
	// 通知ストリーム（SSE）。イベント名は通知の kind、データは通知のJSON。
	r.GET("/frontdesk/notifications", func(c *gin.Context) {
		ch, unsubscribe := hub.Subscribe()
		defer unsubscribe()

		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case n, ok := <-ch:
				if !ok {
					return false
				}
				payload, err := json.Marshal(n)
				if err != nil {
					return false
				}
				c.SSEvent(n.Kind, string(payload))
				return true
			case <-keepAlive.C:
				c.SSEvent("ping", "{}")
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	})

	r.GET("/frontdesk/status", func(c *gin.Context) {
		st, err := ctrl.Status(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})

	r.POST("/frontdesk/cancel", func(c *gin.Context) {
		if err := ctrl.Cancel(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"canceled": true})
	})
}

// TouchInjector はシミュレータへのタッチ注入口
type TouchInjector interface {
	TouchAt(idm string, at time.Time) bool
}

type touchRequest struct {
	Idm string     `json:"idm" binding:"required"`
	At  *time.Time `json:"at"`
}

// RegisterTouchRoutes はタッチ注入APIを登録する。
// シミュレータ構成のときだけ配線される。
func RegisterTouchRoutes(r gin.IRoutes, injector TouchInjector) {
	r.POST("/frontdesk/touches", func(c *gin.Context) {
		var req touchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, ErrInvalid("invalid request body: "+err.Error()))
			return
		}

		at := time.Now().UTC()
		if req.At != nil {
			at = req.At.UTC()
		}
		if !injector.TouchAt(req.Idm, at) {
			writeError(c, ErrConflict("読み取り機がタッチを受け付けませんでした"))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": true, "idm": req.Idm, "at": at})
	})
}

func writeError(c *gin.Context, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.JSON(toHTTPStatus(apiErr), gin.H{"error": apiErr})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": ErrInternal(err.Error())})
}
