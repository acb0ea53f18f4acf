package signal

import (
	"context"
	"time"

	"github.com/dkeye/Talk/internal/core"
	"github.com/dkeye/Talk/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) writePump(ctx context.Context, cancel context.CancelFunc, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drives the connection's share of the router. Any exit — clean
// close, transport error, context cancel — funnels into Detach, which
// the router deduplicates against explicit leaves.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, room domain.RoomID, user domain.UserID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "adapters.signal").Str("room", string(room)).Str("user", string(user)).Msg("readPump closing")
		// An evicted connection's teardown must not reset the rate
		// window of the user's live replacement.
		if ctl.Router.Detach(room, user, c) {
			ctl.limiter.Forget(user)
		}
		c.Close()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			if !ctl.limiter.Allow(user) {
				log.Warn().Str("module", "adapters.signal").Str("user", string(user)).Msg("rate limited, dropping message")
				continue
			}
			if err := ctl.Router.Route(room, user, c, core.Frame(data)); err != nil {
				// Per-message failures never tear the connection down.
				log.Warn().Err(err).Str("module", "adapters.signal").Str("room", string(room)).Str("user", string(user)).Msg("message dropped")
			}
		}
	}
}
