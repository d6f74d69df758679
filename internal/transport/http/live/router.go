package livehttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marlin/internal/pkg/symbol"
	"marlin/internal/store/journal"
	"marlin/internal/types"

	"github.com/gin-gonic/gin"
)

// PositionBook is the read surface of the position ledger.
type PositionBook interface {
	All() []types.Position
	Snapshot(symbol string) *types.Position
}

// SignalInjector accepts operator-injected signals and reports parked state.
type SignalInjector interface {
	Inject(sig types.Signal) error
	Parked(symbol string) bool
}

// EventReader queries the persisted event journal.
type EventReader interface {
	Recent(ctx context.Context, symbol, eventType string, limit int) ([]journal.Record, error)
}

// ReconcileNudger requests an out-of-cycle reconciliation pass.
type ReconcileNudger interface {
	Nudge(symbol string)
}

type injectRequest struct {
	Symbol string  `json:"symbol" binding:"required"`
	Side   string  `json:"side" binding:"required"`
	Price  float64 `json:"price"`
	Reason string  `json:"reason"`
}

func registerAdminRoutes(group *gin.RouterGroup, cfg ServerConfig) {
	group.GET("/positions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"positions": cfg.Book.All()})
	})

	group.GET("/positions/:symbol", func(c *gin.Context) {
		sym := symbol.Normalize(c.Param("symbol"))
		pos := cfg.Book.Snapshot(sym)
		if pos == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no live position", "symbol": sym})
			return
		}
		c.JSON(http.StatusOK, pos)
	})

	group.GET("/parked", func(c *gin.Context) {
		parked := make([]string, 0)
		if cfg.Injector != nil {
			for _, sym := range cfg.Symbols {
				if cfg.Injector.Parked(symbol.Normalize(sym)) {
					parked = append(parked, symbol.Normalize(sym))
				}
			}
		}
		c.JSON(http.StatusOK, gin.H{"parked": parked})
	})

	group.GET("/events", func(c *gin.Context) {
		if cfg.Events == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "event journal not configured"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		records, err := cfg.Events.Recent(
			c.Request.Context(),
			symbol.Normalize(c.Query("symbol")),
			strings.TrimSpace(c.Query("type")),
			limit,
		)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": records})
	})

	group.POST("/signal", func(c *gin.Context) {
		if cfg.Injector == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "signal injection not configured"})
			return
		}
		var req injectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sig := types.Signal{
			Symbol:    symbol.Normalize(req.Symbol),
			Side:      types.Side(strings.ToUpper(strings.TrimSpace(req.Side))),
			Price:     req.Price,
			Reason:    req.Reason,
			EmittedAt: time.Now(),
		}
		if !sig.Side.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "side must be BUY, SELL or CLOSE"})
			return
		}
		if err := cfg.Injector.Inject(sig); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": true, "symbol": sig.Symbol})
	})

	group.POST("/reconcile", func(c *gin.Context) {
		if cfg.Nudger == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "reconciler not configured"})
			return
		}
		cfg.Nudger.Nudge(symbol.Normalize(c.Query("symbol")))
		c.JSON(http.StatusAccepted, gin.H{"accepted": true})
	})
}
