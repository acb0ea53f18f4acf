// Package http wires the gin surface: bearer-auth middleware, the WS
// signal endpoint, presence snapshots, voice status ingest and metrics.
package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dkeye/Talk/internal/adapters/directory"
	"github.com/dkeye/Talk/internal/adapters/identity"
	"github.com/dkeye/Talk/internal/adapters/signal"
	"github.com/dkeye/Talk/internal/app"
	"github.com/dkeye/Talk/internal/config"
	"github.com/dkeye/Talk/internal/core"
	"github.com/dkeye/Talk/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware resolves the bearer token into a user before any
// protected handler runs. Browsers cannot set headers on a WebSocket
// upgrade, so a token query parameter is accepted as a fallback.
func AuthMiddleware(ident identity.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		user, err := ident.Resolve(c.Request.Context(), token)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, router *app.Router, ident identity.Provider, dir directory.Directory) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	authed := api.Group("")
	authed.Use(AuthMiddleware(ident))

	ctl := signal.NewController(router, cfg)
	authed.GET("/ws/rooms/:id", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	// Room catalog. The signal core only needs Get for the full-room
	// check on join, but the client CLI lists and creates rooms through
	// the same process when running against the memory directory.
	authed.GET("/rooms", func(c *gin.Context) {
		rooms, err := dir.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "room listing"})
			return
		}
		c.JSON(http.StatusOK, rooms)
	})

	authed.POST("/rooms", func(c *gin.Context) {
		user := c.MustGet("user").(*domain.User)
		var req struct {
			Language string `json:"language" binding:"required"`
			Level    string `json:"level" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
			return
		}
		room := domain.NewRoom(req.Language, req.Level, user.ID)
		if err := dir.Create(c.Request.Context(), room); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "room create"})
			return
		}
		c.JSON(http.StatusCreated, room)
	})

	authed.GET("/rooms/:id", func(c *gin.Context) {
		room, err := dir.Get(c.Request.Context(), domain.RoomID(c.Param("id")))
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "room lookup"})
			return
		}
		c.JSON(http.StatusOK, room)
	})

	authed.POST("/rooms/:id/join", func(c *gin.Context) {
		user := c.MustGet("user").(*domain.User)
		err := dir.Join(c.Request.Context(), domain.RoomID(c.Param("id")), user.ID)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"message": "joined"})
		case errors.Is(err, core.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		case errors.Is(err, directory.ErrRoomFull):
			c.JSON(http.StatusBadRequest, gin.H{"error": "room is full"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "room join"})
		}
	})

	authed.POST("/rooms/:id/leave", func(c *gin.Context) {
		user := c.MustGet("user").(*domain.User)
		if err := dir.Leave(c.Request.Context(), domain.RoomID(c.Param("id")), user.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "room leave"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "left"})
	})

	// Presence snapshot: current members and active speakers.
	authed.GET("/rooms/:id/presence", func(c *gin.Context) {
		room := domain.RoomID(c.Param("id"))
		c.JSON(http.StatusOK, router.Presence.Snapshot(room))
	})

	// HTTP ingest path for voice status, mirroring the WS message.
	// The sender identity comes from the token, not the body. A raw
	// volume sample can be sent instead of explicit flags; the
	// aggregator debounces either way.
	authed.POST("/voice/status", func(c *gin.Context) {
		user := c.MustGet("user").(*domain.User)
		var req struct {
			RoomID     domain.RoomID `json:"room_id" binding:"required"`
			IsSpeaking bool          `json:"is_speaking"`
			IsMuted    bool          `json:"is_muted"`
			Volume     *float64      `json:"volume,omitempty"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
			return
		}
		var err error
		if req.Volume != nil {
			err = router.VoiceSample(req.RoomID, user.ID, *req.Volume)
		} else {
			err = router.VoiceStatus(req.RoomID, user.ID, req.IsSpeaking, req.IsMuted)
		}
		if err != nil {
			if errors.Is(err, core.ErrNotMember) {
				c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "voice status"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "voice status updated"})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
