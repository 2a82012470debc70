package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerSupervisionRoutes(r *gin.Engine) {
	g := r.Group("/supervision")
	g.POST("/request", s.handleRequestSupervision)
	g.GET("/pending/:id", s.handleListPending)
	g.GET("/outgoing/:id", s.handleListOutgoing)
	g.POST("/accept", s.handleAccept)
	g.POST("/reject", s.handleReject)
	g.POST("/cancel", s.handleCancel)
	g.GET("/list/:id", s.handleListRelations)
	g.GET("/dashboard/:id", s.handleDashboard)
	g.DELETE("/:relation_id", s.handleRemoveRelation)
}

type pairRequest struct {
	SupervisorID string `json:"supervisor_id"`
	TargetID     string `json:"target_id"`
}

func (s *Server) bindPair(c *gin.Context) (pairRequest, bool) {
	var req pairRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err, s.logger)
		return pairRequest{}, false
	}
	return req, true
}

func (s *Server) handleRequestSupervision(c *gin.Context) {
	pair, ok := s.bindPair(c)
	if !ok {
		return
	}
	req, err := s.supervision.Request(c.Request.Context(), pair.SupervisorID, pair.TargetID)
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (s *Server) handleListPending(c *gin.Context) {
	reqs, err := s.supervision.ListPending(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (s *Server) handleListOutgoing(c *gin.Context) {
	reqs, err := s.supervision.ListOutgoing(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (s *Server) handleAccept(c *gin.Context) {
	pair, ok := s.bindPair(c)
	if !ok {
		return
	}
	rel, err := s.supervision.Accept(c.Request.Context(), pair.SupervisorID, pair.TargetID)
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.JSON(http.StatusOK, rel)
}

func (s *Server) handleReject(c *gin.Context) {
	pair, ok := s.bindPair(c)
	if !ok {
		return
	}
	if err := s.supervision.Reject(c.Request.Context(), pair.SupervisorID, pair.TargetID); err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCancel(c *gin.Context) {
	pair, ok := s.bindPair(c)
	if !ok {
		return
	}
	if err := s.supervision.Cancel(c.Request.Context(), pair.SupervisorID, pair.TargetID); err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListRelations(c *gin.Context) {
	rels, err := s.supervision.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.JSON(http.StatusOK, rels)
}

func (s *Server) handleDashboard(c *gin.Context) {
	dash, err := s.status.Dashboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.JSON(http.StatusOK, dash)
}

func (s *Server) handleRemoveRelation(c *gin.Context) {
	if err := s.supervision.Remove(c.Request.Context(), c.Param("relation_id")); err != nil {
		respondError(c, err, s.logger)
		return
	}
	c.Status(http.StatusNoContent)
}
