package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	fileutil "papersnap/internal/file"
	"papersnap/internal/library"
	"papersnap/internal/task"
	"papersnap/internal/zotero"
)

type createTaskRequest struct {
	Reference      string `json:"reference"`
	CollectionKey  string `json:"collection_key"`
	CollectionName string `json:"collection_name"`
}

type currentCollectionRequest struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type taskResponse struct {
	ID             string      `json:"id"`
	Reference      string      `json:"reference"`
	CollectionKey  string      `json:"collection_key,omitempty"`
	CollectionName string      `json:"collection_name,omitempty"`
	Status         task.Status `json:"status"`
	Stage          task.Stage  `json:"stage"`
	StageLabel     string      `json:"stage_label"`
	Title          string      `json:"title,omitempty"`
	Error          string      `json:"error,omitempty"`
	ResolvedURL    string      `json:"resolved_url,omitempty"`
	FilePath       string      `json:"file_path,omitempty"`
	ItemKey        string      `json:"item_key,omitempty"`
	CreatedAt      string      `json:"created_at"`
	SnapshotURL    string      `json:"snapshot_url,omitempty"`
}

// CollectionLister lists the remote library's collections.
type CollectionLister interface {
	Collections(ctx context.Context) ([]zotero.Collection, error)
}

// CollectionMemory remembers the collection new tasks default to.
type CollectionMemory interface {
	Last() (string, string)
	Remember(key, name string) error
}

type API struct {
	taskManager *task.Manager
	collections CollectionLister
	memory      CollectionMemory
}

const collectionsTimeout = 30 * time.Second

// EventsRoute is the server-sent events endpoint.
const EventsRoute = "/api/v1/events"

func NewAPI(taskManager *task.Manager) *API {
	return &API{taskManager: taskManager}
}

// UseCollections enables the collection routes and the default collection.
func (a *API) UseCollections(lister CollectionLister, memory CollectionMemory) {
	a.collections = lister
	a.memory = memory
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/tasks", a.CreateTask)
		api.GET("/tasks", a.ListTasks)
		api.DELETE("/tasks", a.ClearTasks)
		api.GET("/tasks/:id", a.GetTask)
		api.DELETE("/tasks/:id", a.DeleteTask)
		api.POST("/tasks/:id/cancel", a.CancelTask)
		api.POST("/tasks/:id/retry", a.RetryTask)
		api.GET("/tasks/:id/snapshot", a.DownloadSnapshot)
		api.GET("/collections", a.ListCollections)
		api.PUT("/collections/current", a.SetCurrentCollection)
	}
	router.GET(EventsRoute, a.StreamEvents)
}

// CreateTask submits a reference for capture
func (a *API) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid create task request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	created, err := a.submit(c.Request.Context(), req.Reference, req.CollectionKey, req.CollectionName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Set(taskIDKey, created.ID)
	c.JSON(http.StatusCreated, toTaskResponse(created))
}

func (a *API) submit(ctx context.Context, reference, collectionKey, collectionName string) (task.Task, error) {
	collectionKey = strings.TrimSpace(collectionKey)
	switch {
	case collectionKey == "" && a.memory != nil:
		collectionKey, collectionName = a.memory.Last()
	case collectionKey != "" && collectionName == "":
		collectionName = a.collectionName(ctx, collectionKey)
	}
	return a.taskManager.Submit(reference, collectionKey, collectionName) //nolint:wrapcheck
}

// collectionName resolves a key to its display name. An unknown key or a
// failed lookup yields an empty name; the task still runs.
func (a *API) collectionName(ctx context.Context, key string) string {
	if a.memory != nil {
		if lastKey, name := a.memory.Last(); lastKey == key {
			return name
		}
	}
	if a.collections == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, collectionsTimeout)
	defer cancel()
	collections, err := a.collections.Collections(ctx)
	if err != nil {
		log.Warn().Err(err).Str("collection", key).Msg("failed to look up collection name")
		return ""
	}
	for _, col := range collections {
		if col.Key == key && !col.Deleted {
			return col.Name
		}
	}
	log.Warn().Str("collection", key).Msg("unknown collection key")
	return ""
}

// ListTasks returns every tracked task, oldest first
func (a *API) ListTasks(c *gin.Context) {
	tasks := a.taskManager.List()
	resp := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, toTaskResponse(t))
	}
	c.JSON(http.StatusOK, resp)
}

// GetTask returns task status
func (a *API) GetTask(c *gin.Context) {
	id := c.Param("id")
	if foundTask, ok := a.taskManager.Get(id); ok {
		c.JSON(http.StatusOK, toTaskResponse(foundTask))
		return
	}
	log.Warn().Str("task_id", id).Msg("task not found on get")
	c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
}

// DeleteTask cancels a task and removes it
func (a *API) DeleteTask(c *gin.Context) {
	id := c.Param("id")
	if err := a.taskManager.Delete(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearTasks cancels and removes every task
func (a *API) ClearTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": a.taskManager.Clear()})
}

// CancelTask asks a running or queued task to stop
func (a *API) CancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := a.taskManager.Cancel(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	t, _ := a.taskManager.Get(id)
	c.JSON(http.StatusAccepted, toTaskResponse(t))
}

// RetryTask resubmits a failed or cancelled task
func (a *API) RetryTask(c *gin.Context) {
	id := c.Param("id")
	t, err := a.taskManager.Retry(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, toTaskResponse(t))
}

// DownloadSnapshot serves the HTML artifact once the task succeeded
func (a *API) DownloadSnapshot(c *gin.Context) {
	id := c.Param("id")
	foundTask, ok := a.taskManager.Get(id)
	if !ok {
		log.Warn().Str("task_id", id).Msg("task not found on download")
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if foundTask.Status != task.StatusSucceeded || foundTask.FilePath == "" || !fileutil.Exists(foundTask.FilePath) {
		log.Warn().Str("task_id", id).Str("status", string(foundTask.Status)).Msg("snapshot not ready to download")
		c.JSON(http.StatusBadRequest, gin.H{"error": "snapshot not ready"})
		return
	}
	log.Info().Str("task_id", id).Str("path", foundTask.FilePath).Msg("serving snapshot")
	c.File(foundTask.FilePath)
}

// ListCollections returns the collection forest, rebuilt on every call
func (a *API) ListCollections(c *gin.Context) {
	if a.collections == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "library not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), collectionsTimeout)
	defer cancel()
	collections, err := a.collections.Collections(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list collections")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"collections": library.BuildTree(collections)}
	if a.memory != nil {
		key, name := a.memory.Last()
		resp["current"] = gin.H{"key": key, "name": name}
	}
	c.JSON(http.StatusOK, resp)
}

// SetCurrentCollection persists the collection new tasks default to
func (a *API) SetCurrentCollection(c *gin.Context) {
	if a.memory == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "library not configured"})
		return
	}
	var req currentCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := a.memory.Remember(req.Key, req.Name); err != nil {
		log.Error().Err(err).Msg("failed to save last used collection")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("collection", req.Key).Str("name", req.Name).Msg("current collection changed")
	c.JSON(http.StatusOK, gin.H{"key": req.Key, "name": req.Name})
}

// StreamEvents sends task events as server-sent events until the client leaves
func (a *API) StreamEvents(c *gin.Context) {
	events, unsubscribe := a.taskManager.Subscribe()
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("ready", gin.H{"stages": task.NumStages})
	c.Writer.Flush()

	done := c.Request.Context().Done()
	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-done:
			return false
		}
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrNotRetryable):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func toTaskResponse(t task.Task) taskResponse {
	resp := taskResponse{
		ID:             t.ID,
		Reference:      t.Reference,
		CollectionKey:  t.CollectionKey,
		CollectionName: t.CollectionName,
		Status:         t.Status,
		Stage:          t.Stage,
		StageLabel:     t.StageLabel(),
		Title:          t.Title,
		Error:          t.Error,
		ResolvedURL:    t.ResolvedURL,
		FilePath:       t.FilePath,
		ItemKey:        t.ItemKey,
		CreatedAt:      t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.Status == task.StatusSucceeded {
		resp.SnapshotURL = "/api/v1/tasks/" + t.ID + "/snapshot"
	}
	return resp
}
