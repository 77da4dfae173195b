// Package api serves the converter node over HTTP: node schemas, model and
// profile listings, synchronous conversions and background jobs.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/requant/internal/logger"
	"github.com/samcharles93/requant/internal/node"
	"github.com/samcharles93/requant/internal/profile"
	"github.com/samcharles93/requant/internal/progress"
	"github.com/samcharles93/requant/internal/registry"
)

type Server struct {
	node   *node.Node
	models node.Lister
	jobs   *JobStore
	log    logger.Logger
	clock  func() time.Time

	// base is the parent context of every conversion.
	base context.Context
	// run serializes conversions.
	run sync.Mutex
	wg  sync.WaitGroup
}

func NewServer(base context.Context, n *node.Node, jobs *JobStore, log logger.Logger) *Server {
	if jobs == nil {
		jobs = NewJobStore()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		node:   n,
		models: n.Models,
		jobs:   jobs,
		log:    log,
		clock:  time.Now,
		base:   base,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/object_info", s.handleObjectInfo)
	e.GET("/object_info/:class", s.handleObjectInfoClass)
	e.GET("/models", s.handleListFolders)
	e.GET("/models/:folder", s.handleListModels)
	e.GET("/profiles", s.handleProfiles)

	e.POST("/convert", s.handleConvert)
	e.POST("/jobs", s.handleCreateJob)
	e.GET("/jobs", s.handleListJobs)
	e.GET("/jobs/:id", s.handleGetJob)
}

// Wait blocks until every background job has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleObjectInfo(c *echo.Context) error {
	schema, err := s.node.Schema()
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]node.Schema{node.ClassName: schema})
}

func (s *Server) handleObjectInfoClass(c *echo.Context) error {
	class := c.Param("class")
	if class != node.ClassName {
		return writeNotFound(c, "unknown node class "+class)
	}
	schema, err := s.node.Schema()
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]node.Schema{node.ClassName: schema})
}

func (s *Server) handleListFolders(c *echo.Context) error {
	return c.JSON(http.StatusOK, registry.Folders())
}

func (s *Server) handleListModels(c *echo.Context) error {
	folder := c.Param("folder")
	models, err := s.models.List(folder)
	if errors.Is(err, registry.ErrUnknownFolder) {
		return writeNotFound(c, err.Error())
	}
	if err != nil {
		return writeErr(c, err)
	}
	if models == nil {
		models = []string{}
	}
	return c.JSON(http.StatusOK, ModelList{Folder: folder, Models: models})
}

func (s *Server) handleProfiles(c *echo.Context) error {
	def := profile.Default().Name
	all := profile.All()
	out := make([]ProfileInfo, len(all))
	for i, p := range all {
		fp8 := p.FP8
		if fp8 == nil {
			fp8 = []string{}
		}
		out[i] = ProfileInfo{
			Name:      p.Name,
			Default:   p.Name == def,
			Blacklist: p.Blacklist,
			FP8:       fp8,
			Prefix:    p.StripPrefix,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleConvert(c *echo.Context) error {
	req, err := decodeJSON[ConvertRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	s.run.Lock()
	defer s.run.Unlock()

	// A dropped client does not abort a started run; only server shutdown does.
	rep, err := s.node.Execute(s.base, params(req), progress.NewLog(s.log, "converting"))
	if err != nil {
		s.log.Error("conversion failed", "model", req.ModelName, "error", err)
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, ConvertResponse{Status: rep.Status, Report: rep})
}

func (s *Server) handleCreateJob(c *echo.Context) error {
	req, err := decodeJSON[ConvertRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	schema, err := s.node.Schema()
	if err != nil {
		return writeErr(c, err)
	}
	if _, err := schema.Resolve(params(req)); err != nil {
		return writeErr(c, err)
	}

	job, tracker := s.jobs.Create(req, s.clock())
	s.wg.Add(1)
	go s.runJob(job.ID, req, tracker)
	return c.JSON(http.StatusAccepted, job)
}

func (s *Server) runJob(id string, req ConvertRequest, tracker *progress.Tracker) {
	defer s.wg.Done()
	s.run.Lock()
	defer s.run.Unlock()

	log := s.log.With("job", id)
	s.jobs.Start(id, s.clock())
	rep, err := s.node.Execute(s.base, params(req), progress.Multi(tracker, progress.NewLog(log, "converting")))
	if err != nil {
		log.Error("job failed", "error", err)
	}
	s.jobs.Finish(id, rep, err, s.clock())
}

func (s *Server) handleListJobs(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.jobs.List())
}

func (s *Server) handleGetJob(c *echo.Context) error {
	id := c.Param("id")
	job, ok := s.jobs.Get(id)
	if !ok {
		return writeNotFound(c, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}

func params(req ConvertRequest) node.Params {
	return node.Params{
		ModelName:      req.ModelName,
		OutputFilename: req.OutputFilename,
		ModelType:      req.ModelType,
		Device:         req.Device,
	}
}
