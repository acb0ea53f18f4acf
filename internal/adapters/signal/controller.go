package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Talk/internal/app"
	"github.com/dkeye/Talk/internal/config"
	"github.com/dkeye/Talk/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Controller struct {
	Router  *app.Router
	Cfg     *config.Config
	limiter *RateLimiter
}

// Negotiation bursts (ICE candidates) stay well under this.
const (
	rateLimit  = 50
	rateWindow = time.Second
)

func NewController(router *app.Router, cfg *config.Config) *Controller {
	return &Controller{
		Router:  router,
		Cfg:     cfg,
		limiter: NewRateLimiter(rateLimit, rateWindow),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and binds the connection to the
// (room, user) pair. The auth middleware has already resolved the bearer
// token into a user, so an unauthorized caller never reaches the upgrade.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	v, ok := c.Get("user")
	user, _ := v.(*domain.User)
	if !ok || user == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	room := domain.RoomID(c.Param("id"))
	if room == "" {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := newWSSignalConn(ws, ctl.Cfg.SendBuffer)
	log.Info().Str("module", "adapters.signal").Str("room", string(room)).Str("user", string(user.ID)).Msg("new signal connection")

	ctl.Router.Attach(room, user, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, conn)
	go ctl.readPump(ctx, cancel, room, user.ID, conn)
}
