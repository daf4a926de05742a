package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"safeconnect/internal/server/storage"
	"safeconnect/pkg/model"
)

type Handlers struct {
	store storage.Store
}

func NewHandlers(store storage.Store) *Handlers {
	return &Handlers{store: store}
}

// Data 当前连接视图。
func (h *Handlers) Data(c *gin.Context) {
	snap, err := h.store.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取数据集失败：" + err.Error()})
		return
	}
	c.JSON(http.StatusOK, BuildDashboard(snap))
}

// History 支持 ?risk=MALICIOUS 与 ?active=true|false。
func (h *Handlers) History(c *gin.Context) {
	var f HistoryFilter
	if raw := c.Query("risk"); raw != "" {
		r := model.RiskLevel(strings.ToUpper(raw))
		if !r.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "risk 参数非法：" + raw})
			return
		}
		f.Risk = &r
	}
	if raw := c.Query("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "active 参数非法：" + raw})
			return
		}
		f.Active = &v
	}

	snap, err := h.store.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取数据集失败：" + err.Error()})
		return
	}
	c.JSON(http.StatusOK, BuildHistory(snap, f))
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
