package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"dlevel-stack/internal/models"
	"dlevel-stack/shared/monitoring"
	"dlevel-stack/shared/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Server exposes the relay over HTTP: runtime messages, the store, the tab
// registry and the event stream.
type Server struct {
	relay   *Relay
	store   *storage.Store
	hub     *Hub
	monitor *monitoring.Monitor
}

func NewServer(relay *Relay, store *storage.Store, hub *Hub, monitor *monitoring.Monitor) *Server {
	return &Server{relay: relay, store: store, hub: hub, monitor: monitor}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	monitoring.RegisterRoutes(r, s.monitor)

	v1 := r.Group("/v1")
	{
		v1.POST("/messages", s.handleMessage)
		v1.GET("/tabs", s.handleTabs)
		v1.GET("/events", s.hub.ServeWS)

		st := v1.Group("/storage/:area")
		st.GET("", s.handleGetAll)
		st.PUT("", s.handleSet)
		st.GET("/:key", s.handleGet)
		st.DELETE("/:key", s.handleRemove)
	}
	return r
}

func (s *Server) handleMessage(c *gin.Context) {
	var msg models.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message: " + err.Error()})
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	// Remote analyses are not cancelled when the caller goes away.
	resp := s.relay.Handle(context.WithoutCancel(c.Request.Context()), msg)
	resp.RequestID = msg.ID
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTabs(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.Tabs().List())
}

func (s *Server) area(c *gin.Context) (storage.Area, bool) {
	area, err := s.store.Area(c.Param("area"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return area, true
}

func (s *Server) handleGetAll(c *gin.Context) {
	area, ok := s.area(c)
	if !ok {
		return
	}
	values, err := area.GetAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, values)
}

func (s *Server) handleGet(c *gin.Context) {
	area, ok := s.area(c)
	if !ok {
		return
	}
	value, found, err := area.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.Data(http.StatusOK, "application/json", value)
}

func (s *Server) handleSet(c *gin.Context) {
	area, ok := s.area(c)
	if !ok {
		return
	}
	var values map[string]json.RawMessage
	if err := c.ShouldBindJSON(&values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
		return
	}
	if err := area.Set(c.Request.Context(), values); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrInvalidValue) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRemove(c *gin.Context) {
	area, ok := s.area(c)
	if !ok {
		return
	}
	if err := area.Remove(c.Request.Context(), c.Param("key")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
