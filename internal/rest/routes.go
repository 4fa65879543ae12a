// Package rest exposes the registry over HTTP with Confluent-style routes.
package rest

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schemakeeper/internal/regerr"
	"schemakeeper/internal/schema"
	"schemakeeper/internal/schema/types"
)

// contentType is the vendored media type all responses carry.
const contentType = "application/vnd.schemaregistry.v1+json"

// Server wires the registry into HTTP handlers.
type Server struct {
	registry *schema.Registry
}

// New creates a REST server over a registry.
func New(registry *schema.Registry) *Server {
	return &Server{registry: registry}
}

// SchemaRequest is the payload for registering or checking schemas.
type SchemaRequest struct {
	Schema     string `json:"schema" binding:"required"`
	SchemaType string `json:"schemaType,omitempty"`
}

// SchemaResponse is returned on successful registration.
type SchemaResponse struct {
	ID      uint32 `json:"id"`
	Version uint32 `json:"version"`
}

// SchemaRecordResponse is one stored schema version.
type SchemaRecordResponse struct {
	Schema     string `json:"schema"`
	Subject    string `json:"subject"`
	Version    uint32 `json:"version"`
	ID         uint32 `json:"id"`
	SchemaType string `json:"schemaType,omitempty"`
	Inactive   bool   `json:"inactive,omitempty"`
}

// CompatibilityResponse is the dry-run check result.
type CompatibilityResponse struct {
	IsCompatible bool               `json:"is_compatible"`
	Violations   []regerr.Violation `json:"violations,omitempty"`
}

// ConfigRequest updates a compatibility mode.
type ConfigRequest struct {
	Compatibility string `json:"compatibility" binding:"required"`
}

// ConfigResponse returns a compatibility mode.
type ConfigResponse struct {
	CompatibilityLevel string `json:"compatibilityLevel"`
}

// ErrorResponse is the error envelope with a registry error code.
type ErrorResponse struct {
	ErrorCode int                `json:"error_code"`
	Message   string             `json:"message"`
	Reasons   []regerr.Violation `json:"reasons,omitempty"`
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", contentType)
		c.Next()
	})

	r.GET("/subjects", s.listSubjects)

	subjects := r.Group("/subjects/:subject")
	{
		subjects.GET("/versions", s.listVersions)
		subjects.POST("/versions", s.register)
		subjects.GET("/versions/:version", s.getVersion)
		subjects.POST("/versions/:version/deactivate", s.deactivate)
		subjects.POST("/versions/:version/reactivate", s.reactivate)
		subjects.POST("", s.lookup)
	}

	r.GET("/schemas/ids/:id", s.getByID)

	r.POST("/compatibility/subjects/:subject/versions", s.checkCompatibility)

	r.GET("/config", s.getConfig("global"))
	r.PUT("/config", s.setConfig("global"))
	r.GET("/config/:subject", s.getSubjectConfig)
	r.PUT("/config/:subject", s.setSubjectConfig)

	r.GET("/groups", s.listGroups)
	r.GET("/groups/:group", s.getGroup)
	r.PUT("/groups/:group/subjects/:subject", s.addToGroup)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// writeError maps registry errors onto HTTP statuses and error codes.
func writeError(c *gin.Context, err error) {
	var rejected *regerr.RejectedError
	if errors.As(err, &rejected) {
		c.JSON(http.StatusConflict, ErrorResponse{
			ErrorCode: 40901,
			Message:   rejected.Error(),
			Reasons:   rejected.Violations,
		})
		return
	}
	var parse *regerr.ParseError
	if errors.As(err, &parse) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{ErrorCode: 42201, Message: parse.Error()})
		return
	}
	var conflict *regerr.ConflictError
	if errors.As(err, &conflict) {
		slog.Error("storage conflict", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{ErrorCode: 50001, Message: conflict.Error()})
		return
	}
	if errors.Is(err, regerr.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{ErrorCode: 40401, Message: err.Error()})
		return
	}
	if errors.Is(err, regerr.ErrRegistryUnavailable) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{ErrorCode: 50300, Message: err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{ErrorCode: 50000, Message: err.Error()})
}

func recordResponse(rec *types.SchemaRecord) SchemaRecordResponse {
	resp := SchemaRecordResponse{
		Schema:   string(rec.Definition),
		Subject:  rec.Subject,
		Version:  rec.Version,
		ID:       rec.ID,
		Inactive: rec.Inactive,
	}
	// Avro is the registry's default type and is omitted, as clients expect.
	if rec.Format != types.Avro {
		resp.SchemaType = string(rec.Format)
	}
	return resp
}

func requestFormat(req SchemaRequest) types.Format {
	if req.SchemaType == "" {
		return types.Avro
	}
	return types.Format(req.SchemaType)
}

func (s *Server) listSubjects(c *gin.Context) {
	subjects, err := s.registry.Subjects(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if subjects == nil {
		subjects = []string{}
	}
	c.JSON(http.StatusOK, subjects)
}

func (s *Server) register(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	registered, err := s.registry.Register(c.Request.Context(), subject, []byte(req.Schema), requestFormat(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SchemaResponse{ID: registered.ID, Version: registered.Version})
}

func (s *Server) lookup(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	rec, err := s.registry.Lookup(c.Request.Context(), subject, []byte(req.Schema), requestFormat(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recordResponse(rec))
}

func (s *Server) listVersions(c *gin.Context) {
	versions, err := s.registry.Versions(c.Request.Context(), c.Param("subject"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

func (s *Server) getVersion(c *gin.Context) {
	subject := c.Param("subject")
	version := c.Param("version")

	var rec *types.SchemaRecord
	var err error
	if version == "latest" {
		rec, err = s.registry.Latest(c.Request.Context(), subject)
	} else {
		v, perr := strconv.ParseUint(version, 10, 32)
		if perr != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42202, Message: "invalid version: " + version})
			return
		}
		rec, err = s.registry.BySubjectVersion(c.Request.Context(), subject, uint32(v))
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recordResponse(rec))
}

func (s *Server) getByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42203, Message: "invalid schema ID: " + c.Param("id")})
		return
	}
	rec, err := s.registry.ByID(c.Request.Context(), uint32(id))
	if err != nil {
		writeError(c, err)
		return
	}
	// The by-ID route serves client caches, which decode the complete
	// record, field descriptors and hash included.
	c.JSON(http.StatusOK, rec)
}

func (s *Server) checkCompatibility(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	result, err := s.registry.CheckCandidate(c.Request.Context(), subject, []byte(req.Schema), requestFormat(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CompatibilityResponse{
		IsCompatible: result.Compatible(),
		Violations:   result.Violations,
	})
}

func (s *Server) deactivate(c *gin.Context) {
	s.setActive(c, false)
}

func (s *Server) reactivate(c *gin.Context) {
	s.setActive(c, true)
}

func (s *Server) setActive(c *gin.Context, active bool) {
	subject := c.Param("subject")
	v, err := strconv.ParseUint(c.Param("version"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42202, Message: "invalid version: " + c.Param("version")})
		return
	}

	if active {
		err = s.registry.Reactivate(c.Request.Context(), subject, uint32(v))
	} else {
		err = s.registry.Deactivate(c.Request.Context(), subject, uint32(v))
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject": subject, "version": v})
}

func (s *Server) getConfig(subject string) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode, err := s.registry.ModeFor(c.Request.Context(), subject)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(mode)})
	}
}

func (s *Server) setConfig(subject string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
			return
		}
		if err := s.registry.SetMode(c.Request.Context(), subject, types.CompatibilityMode(req.Compatibility)); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: req.Compatibility})
	}
}

func (s *Server) getSubjectConfig(c *gin.Context) {
	s.getConfig(c.Param("subject"))(c)
}

func (s *Server) setSubjectConfig(c *gin.Context) {
	s.setConfig(c.Param("subject"))(c)
}

func (s *Server) listGroups(c *gin.Context) {
	groups, err := s.registry.Groups(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if groups == nil {
		groups = []string{}
	}
	c.JSON(http.StatusOK, groups)
}

func (s *Server) getGroup(c *gin.Context) {
	subjects, err := s.registry.Group(c.Request.Context(), c.Param("group"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, subjects)
}

func (s *Server) addToGroup(c *gin.Context) {
	group := c.Param("group")
	subject := c.Param("subject")
	if err := s.registry.AddToGroup(c.Request.Context(), group, subject); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group, "subject": subject})
}
