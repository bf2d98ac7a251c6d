package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/command"
)

const maxCommandBody = 16 << 10

func registerRoutes(api *gin.RouterGroup, cfg ServerConfig) {
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg.Engine.Status())
	})

	api.GET("/positions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"positions": cfg.Engine.Positions()})
	})

	api.POST("/command", func(c *gin.Context) {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		cmd, err := cfg.Intake.Submit(raw)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"applied": cmd.String(), "id": cmd.ID})
	})

	if cfg.Archive != nil {
		api.GET("/trades", func(c *gin.Context) {
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
			var (
				rows interface{}
				err  error
			)
			if symbol := c.Query("symbol"); symbol != "" {
				rows, err = cfg.Archive.BySymbol(symbol, limit)
			} else {
				rows, err = cfg.Archive.Recent(limit)
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"trades": rows})
		})
	}

	if cfg.Journal != nil {
		api.GET("/events", func(c *gin.Context) {
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
			rows, err := cfg.Journal.Recent(limit)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"events": rows})
		})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, command.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, command.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
