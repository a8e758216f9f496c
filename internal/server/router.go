package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/overlay/internal/compiler"
	"github.com/MarcoPoloResearchLab/overlay/internal/outbox"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxCompileBodyBytes = 4 << 20
	maxChangesLimit     = 1000
	defaultHeartbeat    = 15 * time.Second
)

var errMissingDDL = errors.New("ddl body is empty")

// ChangeReader is the read side of the outbox; *outbox.Tailer satisfies it.
type ChangeReader interface {
	Next(ctx context.Context, query outbox.Query) ([]outbox.ChangeRecord, error)
	BatchSize() int
}

// Dependencies wires the HTTP surface. Changes is optional; without it only
// the compile endpoint is served.
type Dependencies struct {
	Compiler   compiler.Options
	Changes    ChangeReader
	Dispatcher *outbox.Dispatcher
	Heartbeat  time.Duration
	Logger     *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if _, err := compiler.New(deps.Compiler); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		options:    deps.Compiler,
		changes:    deps.Changes,
		dispatcher: deps.Dispatcher,
		heartbeat:  heartbeat,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/compile", handler.handleCompile)
	if deps.Changes != nil {
		router.GET("/changes", handler.handleListChanges)
		router.GET("/changes/stream", handler.handleChangeStream)
	}

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Last-Event-ID"},
		ExposeHeaders: []string{"Content-Type"},
		MaxAge:        12 * time.Hour,
	})
}

type httpHandler struct {
	options    compiler.Options
	changes    ChangeReader
	dispatcher *outbox.Dispatcher
	heartbeat  time.Duration
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type compileRequestPayload struct {
	DDL             string  `json:"ddl"`
	OutboxVariant   string  `json:"outbox_variant"`
	JoinTablePrefix *string `json:"join_table_prefix"`
}

type compileResponsePayload struct {
	SQL      string           `json:"sql"`
	Tables   []tablePayload   `json:"tables"`
	Warnings []warningPayload `json:"warnings"`
}

type tablePayload struct {
	Name       string   `json:"name"`
	Schema     string   `json:"schema,omitempty"`
	KeyPolicy  string   `json:"key_policy"`
	KeyColumns []string `json:"key_columns"`
	Columns    []string `json:"columns"`
	Writable   bool     `json:"writable"`
}

type warningPayload struct {
	Table   string `json:"table,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (h *httpHandler) handleCompile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCompileBodyBytes)

	request := compileRequestPayload{}
	if strings.HasPrefix(c.ContentType(), "application/json") {
		if err := c.ShouldBindJSON(&request); err != nil {
			respondError(c, h.logger, http.StatusBadRequest, newServiceError(opCompile, reasonInvalidRequest, err))
			return
		}
	} else {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			respondError(c, h.logger, http.StatusBadRequest, newServiceError(opCompile, reasonInvalidRequest, err))
			return
		}
		request.DDL = string(body)
	}
	if strings.TrimSpace(request.DDL) == "" {
		respondError(c, h.logger, http.StatusBadRequest, newServiceError(opCompile, reasonInvalidRequest, errMissingDDL))
		return
	}

	options := h.options
	options.Logger = h.logger
	if request.OutboxVariant != "" {
		options.OutboxVariant = compiler.OutboxVariant(request.OutboxVariant)
	}
	if request.JoinTablePrefix != nil {
		options.JoinTablePrefix = *request.JoinTablePrefix
	}
	ddlCompiler, err := compiler.New(options)
	if err != nil {
		respondError(c, h.logger, http.StatusBadRequest, newServiceError(opCompile, reasonInvalidOptions, err))
		return
	}

	result := ddlCompiler.Compile(request.DDL)
	response := compileResponsePayload{
		SQL:      result.SQL,
		Tables:   make([]tablePayload, 0, len(result.Tables)),
		Warnings: make([]warningPayload, 0, len(result.Warnings)),
	}
	for _, table := range result.Tables {
		response.Tables = append(response.Tables, tablePayload{
			Name:       table.Name,
			Schema:     table.Schema,
			KeyPolicy:  string(table.KeyPolicy),
			KeyColumns: table.KeyColumns,
			Columns:    table.Columns,
			Writable:   table.Writable,
		})
	}
	for _, warning := range result.Warnings {
		response.Warnings = append(response.Warnings, warningPayload(warning))
	}
	c.JSON(http.StatusOK, response)
}

type changesResponsePayload struct {
	Changes   []outbox.ChangeRecord `json:"changes"`
	NextAfter int64                 `json:"next_after"`
}

func (h *httpHandler) handleListChanges(c *gin.Context) {
	query, err := parseChangeQuery(c, opListChanges, c.Query("after"))
	if err != nil {
		respondError(c, h.logger, http.StatusBadRequest, err)
		return
	}
	if rawLimit := c.Query("limit"); rawLimit != "" {
		limit, parseErr := strconv.Atoi(rawLimit)
		if parseErr != nil || limit <= 0 || limit > maxChangesLimit {
			respondError(c, h.logger, http.StatusBadRequest, newServiceError(opListChanges, reasonInvalidLimit, parseErr))
			return
		}
		query.Limit = limit
	}

	records, err := h.changes.Next(c.Request.Context(), query)
	if err != nil {
		respondError(c, h.logger, http.StatusInternalServerError, newServiceError(opListChanges, reasonQueryFailed, err))
		return
	}

	response := changesResponsePayload{Changes: records, NextAfter: query.AfterID}
	if response.Changes == nil {
		response.Changes = []outbox.ChangeRecord{}
	}
	if len(records) > 0 {
		response.NextAfter = records[len(records)-1].ID
	}
	c.JSON(http.StatusOK, response)
}

func parseChangeQuery(c *gin.Context, operation, rawAfter string) (outbox.Query, error) {
	query := outbox.Query{Table: strings.TrimSpace(c.Query("table"))}
	if rawAfter == "" {
		return query, nil
	}
	after, err := strconv.ParseInt(rawAfter, 10, 64)
	if err != nil {
		return outbox.Query{}, newServiceError(operation, reasonInvalidAfter, err)
	}
	if after < 0 {
		return outbox.Query{}, newServiceError(operation, reasonInvalidAfter, outbox.ErrInvalidCursor)
	}
	query.AfterID = after
	return query, nil
}
