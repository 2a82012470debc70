package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/haasonsaas/areuok/pkg/identity"
)

func (s *Server) registerDeviceRoutes(r *gin.Engine) {
	r.POST("/devices/register", s.rateLimited("register", s.limits.RegisterPerMinute), s.handleRegister)
	r.GET("/devices/:id", s.handleGetDevice)
	r.PATCH("/devices/:id/name", s.handleUpdateName)
	r.PATCH("/devices/:id/mode", s.handleSetMode)
	r.POST("/devices/:id/signin", s.handleSignIn)
	r.GET("/devices/:id/status", s.handleStatus)
	r.GET("/search/devices", s.rateLimited("search", s.limits.SearchPerMinute), s.handleSearch)
}

type registerRequest struct {
	DeviceName string `json:"device_name"`
	HardwareID string `json:"hardware_id"`
	// IMEI is accepted as an alias for HardwareID.
	IMEI string `json:"imei"`
	Mode string `json:"mode"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err, s.logger)
		return
	}
	hardwareID := req.HardwareID
	if hardwareID == "" {
		hardwareID = req.IMEI
	}
	device, created, err := s.identity.Register(c.Request.Context(), identity.RegisterParams{
		Name:       req.DeviceName,
		HardwareID: hardwareID,
		Mode:       req.Mode,
	})
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	logger := requestLogger(c, s.logger)
	code := http.StatusOK
	if created {
		code = http.StatusCreated
		logger.Info().Str("device_id", device.DeviceID).Msg("device registered")
	}
	c.JSON(code, device)
}

func (s *Server) handleGetDevice(c *gin.Context) {
	device, err := s.identity.GetInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.JSON(http.StatusOK, device)
}

func (s *Server) handleUpdateName(c *gin.Context) {
	var req struct {
		DeviceName string `json:"device_name"`
	}
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err, s.logger)
		return
	}
	device, err := s.identity.UpdateName(c.Request.Context(), c.Param("id"), req.DeviceName)
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.JSON(http.StatusOK, device)
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err, s.logger)
		return
	}
	device, err := s.identity.SetMode(c.Request.Context(), c.Param("id"), req.Mode)
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.JSON(http.StatusOK, device)
}

func (s *Server) handleSignIn(c *gin.Context) {
	state, err := s.streaks.SignIn(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.status.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleSearch(c *gin.Context) {
	devices, err := s.identity.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.JSON(http.StatusOK, devices)
}
