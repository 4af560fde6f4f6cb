// Package diag exposes a small HTTP surface over a running session for
// operating headless agents: health, roster and device snapshots, plus
// moderation actions relayed onto the control protocol.
package diag

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/control"
	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/hooks"
	"github.com/lumeet/classmeet/internal/rtc"
)

func SetupRouter(mode string, meet *rtc.Meet, hands *hooks.RaisedHands) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "meeting": meet.Title()})
	})

	r.GET("/roster", func(c *gin.Context) {
		rost := meet.Roster()
		if rost == nil {
			c.JSON(http.StatusOK, gin.H{"attendees": map[string]any{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendees": rost.Snapshot()})
	})

	r.GET("/devices", func(c *gin.Context) {
		c.JSON(http.StatusOK, meet.DeviceSnapshot())
	})

	r.GET("/hands", func(c *gin.Context) {
		raised := []domain.AttendeeID{}
		if hands != nil {
			raised = hands.Raised()
		}
		c.JSON(http.StatusOK, gin.H{"raised": raised})
	})

	r.GET("/topics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"topics": control.Topics()})
	})

	mod := r.Group("/moderate")
	{
		mod.POST("/raise-hand", func(c *gin.Context) {
			moderator(meet).RaiseHand()
			c.Status(http.StatusAccepted)
		})
		mod.POST("/dismiss-hand", func(c *gin.Context) {
			moderator(meet).DismissHand()
			c.Status(http.StatusAccepted)
		})
		mod.POST("/chat", func(c *gin.Context) {
			var req struct {
				Text string            `json:"text" binding:"required"`
				To   domain.AttendeeID `json:"to"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			channel := control.PublicChannel
			if req.To != "" {
				channel = control.PrivateChannel(meet.LocalID(), req.To)
			}
			moderator(meet).SendChat(channel, req.Text)
			c.Status(http.StatusAccepted)
		})
		mod.POST("/focus", func(c *gin.Context) {
			moderator(meet).SetFocus(c.Query("on") == "true")
			c.Status(http.StatusAccepted)
		})
		mod.POST("/mute", func(c *gin.Context) {
			moderator(meet).MuteAttendee(domain.AttendeeID(c.Query("target")), c.Query("mute") != "false")
			c.Status(http.StatusAccepted)
		})
		mod.POST("/mute-all", func(c *gin.Context) {
			moderator(meet).MuteAll()
			c.Status(http.StatusAccepted)
		})
		mod.POST("/remove", func(c *gin.Context) {
			moderator(meet).RemoveAttendee(domain.AttendeeID(c.Query("target")))
			c.Status(http.StatusAccepted)
		})
		mod.POST("/video", func(c *gin.Context) {
			moderator(meet).SetVideo(domain.AttendeeID(c.Query("target")), c.Query("on") == "true")
			c.Status(http.StatusAccepted)
		})
		mod.POST("/share-permit", func(c *gin.Context) {
			moderator(meet).PermitShare(domain.AttendeeID(c.Query("target")), c.Query("allow") != "false")
			c.Status(http.StatusAccepted)
		})
		mod.POST("/make-host", func(c *gin.Context) {
			moderator(meet).MakeHost(domain.AttendeeID(c.Query("target")))
			c.Status(http.StatusAccepted)
		})
	}

	log.Info().Str("module", "diag").Str("mode", mode).Msg("router setup")
	return r
}

// moderator is rebuilt per request: the local id changes when the facade
// is reused for a new session.
func moderator(meet *rtc.Meet) *control.Moderator {
	return control.NewModerator(meet, meet.LocalID())
}
