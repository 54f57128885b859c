// Package mcpgo exposes the matcher as MCP tools over stdio or streamable
// HTTP.
package mcpgo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/noot-app/ingredient-matcher/internal/nutrition"
	"github.com/noot-app/ingredient-matcher/internal/service"
	"github.com/noot-app/ingredient-matcher/internal/store"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

const healthCacheDuration = 10 * time.Second

// Matcher is the part of service.Service the tools call
type Matcher interface {
	Query(ctx context.Context, req service.QueryRequest) (service.QueryResult, error)
	Accept(ctx context.Context, req service.AcceptRequest) (types.MatchRecord, error)
	ListMatches(ctx context.Context, f store.Filter) (store.Page, error)
	DeleteMatch(ctx context.Context, id string) (types.MatchRecord, error)
	Breakdown(ctx context.Context, req service.BreakdownRequest) (nutrition.Breakdown, error)
	HealthCheck(ctx context.Context) error
}

// responseRecorder wraps http.ResponseWriter to capture response details
type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	bytesWritten  int
	headerWritten bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.headerWritten {
		return
	}
	r.statusCode = code
	r.headerWritten = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if !r.headerWritten {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(data)
	r.bytesWritten += n
	return n, err
}

// Flush lets streamed responses through the recorder
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Server wraps the mark3labs MCP server
type Server struct {
	mcpServer *server.MCPServer
	matcher   Matcher
	log       *slog.Logger

	// health results are cached so /health cannot hammer the store
	healthMu        sync.RWMutex
	lastHealthCheck time.Time
	lastHealthError error
}

// DeleteMatchResponse is returned by delete_match
type DeleteMatchResponse struct {
	Deleted types.MatchRecord `json:"deleted"`
}

// NewServer creates an MCP server with the matcher tools registered
func NewServer(matcher Matcher, version string, logger *slog.Logger) *Server {
	mcpServer := server.NewMCPServer(
		"Ingredient Matcher",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		matcher:   matcher,
		log:       logger,
	}
	s.addTools()
	return s
}

// checkHealthWithCache runs the health check at most once per cache window
func (s *Server) checkHealthWithCache(ctx context.Context) error {
	s.healthMu.RLock()
	if time.Since(s.lastHealthCheck) < healthCacheDuration {
		err := s.lastHealthError
		s.healthMu.RUnlock()
		s.log.Debug("Health check: using cached result",
			"cached_error", err != nil,
			"cache_age", time.Since(s.lastHealthCheck))
		return err
	}
	s.healthMu.RUnlock()

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	// another goroutine may have refreshed it while we waited
	if time.Since(s.lastHealthCheck) < healthCacheDuration {
		return s.lastHealthError
	}

	s.log.Debug("Health check: checking store and catalogs")
	err := s.matcher.HealthCheck(ctx)
	s.lastHealthCheck = time.Now()
	s.lastHealthError = err
	return err
}

func catalogKindOption() mcp.ToolOption {
	return mcp.WithString("catalog_kind",
		mcp.Description("Catalog to match against (default: nutrition)"),
		mcp.Enum(string(types.CatalogNutrition), string(types.CatalogProduct)),
		mcp.DefaultString(string(types.CatalogNutrition)),
	)
}

func (s *Server) addTools() {
	matchTool := mcp.NewTool("match_name",
		mcp.WithDescription("Match a free-text Danish ingredient or product name against the nutrition reference or the product catalog. Returns up to top_k ranked candidates with tier and a 0-100 confidence. An empty candidate list means no match."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.MinLength(1),
			mcp.Description("Free-text name, for example \"100 g hakkede mandler\""),
		),
		catalogKindOption(),
		mcp.WithString("category_hint",
			mcp.Description("Optional category such as \"dairy\" used when no name matches"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Maximum number of candidates (default: 3, max: 10)"),
			mcp.DefaultNumber(3),
			mcp.Min(1),
			mcp.Max(10),
		),
		mcp.WithOutputSchema[service.QueryResult](),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)
	s.mcpServer.AddTool(matchTool, s.handleMatchName)

	acceptTool := mcp.NewTool("accept_match",
		mcp.WithDescription("Persist a match from a source id (ingredient or product reference) to a catalog id. Manual matches are never replaced by automatic rematching."),
		mcp.WithString("source_id", mcp.Required(), mcp.MinLength(1), mcp.Description("Ingredient or product reference id")),
		mcp.WithString("target_id", mcp.Required(), mcp.MinLength(1), mcp.Description("Catalog id: a food id or store/external_id")),
		catalogKindOption(),
		mcp.WithBoolean("manual",
			mcp.Description("Record a reviewer decision (default: true)"),
			mcp.DefaultBool(true),
		),
		mcp.WithNumber("confidence",
			mcp.Description("0-100. Defaults to 100 for manual matches; required otherwise"),
			mcp.Min(0),
			mcp.Max(100),
		),
		mcp.WithString("match_type",
			mcp.Description("Tier that produced an automatic match"),
			mcp.Enum(string(types.MatchExact), string(types.MatchSynonym), string(types.MatchFuzzy), string(types.MatchCategoryFallback)),
		),
		mcp.WithOutputSchema[types.MatchRecord](),
		mcp.WithIdempotentHintAnnotation(true),
	)
	s.mcpServer.AddTool(acceptTool, s.handleAcceptMatch)

	listTool := mcp.NewTool("list_matches",
		mcp.WithDescription("List stored matches, most recent first"),
		mcp.WithString("source_id", mcp.Description("Only matches for this source")),
		mcp.WithString("target_id", mcp.Description("Only matches to this catalog id")),
		mcp.WithString("catalog_kind",
			mcp.Description("Only matches into this catalog"),
			mcp.Enum(string(types.CatalogNutrition), string(types.CatalogProduct)),
		),
		mcp.WithBoolean("manual_only", mcp.Description("Only manual matches")),
		mcp.WithNumber("offset", mcp.Description("Number of matches to skip"), mcp.Min(0)),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Page size (default: %d, max: %d)", store.DefaultLimit, store.MaxLimit)),
			mcp.Min(1),
			mcp.Max(store.MaxLimit),
		),
		mcp.WithOutputSchema[store.Page](),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.mcpServer.AddTool(listTool, s.handleListMatches)

	deleteTool := mcp.NewTool("delete_match",
		mcp.WithDescription("Delete a match permanently (undo). The source becomes unmatched; earlier matches are not restored."),
		mcp.WithString("id", mcp.Required(), mcp.MinLength(1), mcp.Description("Match id")),
		mcp.WithOutputSchema[DeleteMatchResponse](),
		mcp.WithDestructiveHintAnnotation(true),
	)
	s.mcpServer.AddTool(deleteTool, s.handleDeleteMatch)

	breakdownTool := mcp.NewTool("nutrition_breakdown",
		mcp.WithDescription("Compute per-ingredient nutrient contributions, recipe totals and per-serving values. Pass recipe_id for a stored recipe or recipe for an inline one. Unmatched ingredients are listed with an unknown contribution."),
		mcp.WithString("recipe_id", mcp.Description("Stored recipe id")),
		mcp.WithObject("recipe",
			mcp.Description("Inline recipe: {title, servings, ingredients: [{id, name, amount, unit}]}"),
		),
		mcp.WithBoolean("auto_match",
			mcp.Description("Match ingredients without a stored match on the fly (not persisted)"),
			mcp.DefaultBool(false),
		),
		mcp.WithOutputSchema[nutrition.Breakdown](),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.mcpServer.AddTool(breakdownTool, s.handleNutritionBreakdown)
}

func (s *Server) handleMatchName(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.log.Debug("handleMatchName: Starting tool call", "arguments", request.GetArguments())

	text, err := request.RequireString("text")
	if err != nil || strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("Missing required parameter 'text'"), nil
	}
	topK := int(request.GetFloat("top_k", 3))
	if topK <= 0 {
		topK = 3
	}
	if topK > 10 {
		topK = 10
	}

	result, err := s.matcher.Query(ctx, service.QueryRequest{
		FreeText:     text,
		CatalogKind:  types.CatalogKind(request.GetString("catalog_kind", string(types.CatalogNutrition))),
		CategoryHint: request.GetString("category_hint", ""),
		TopK:         topK,
	})
	if err != nil {
		s.log.Error("Match query failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Match failed: %v", err)), nil
	}
	return s.structured("handleMatchName", result)
}

func (s *Server) handleAcceptMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.log.Debug("handleAcceptMatch: Starting tool call", "arguments", request.GetArguments())

	sourceID, err := request.RequireString("source_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Missing required parameter 'source_id': %v", err)), nil
	}
	targetID, err := request.RequireString("target_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Missing required parameter 'target_id': %v", err)), nil
	}

	req := service.AcceptRequest{
		SourceID:    sourceID,
		TargetID:    targetID,
		CatalogKind: types.CatalogKind(request.GetString("catalog_kind", string(types.CatalogNutrition))),
		MatchType:   types.MatchType(request.GetString("match_type", "")),
		Manual:      request.GetBool("manual", true),
	}
	if _, ok := request.GetArguments()["confidence"]; ok {
		c := int(request.GetFloat("confidence", 100))
		req.Confidence = &c
	}

	rec, err := s.matcher.Accept(ctx, req)
	if err != nil {
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			return mcp.NewToolResultError(fmt.Sprintf("Rejected: source %q has a manual match to %q (id %s). Delete it or accept manually.",
				conflict.Existing.SourceID, conflict.Existing.TargetID, conflict.Existing.ID)), nil
		}
		s.log.Error("Accept match failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Accept failed: %v", err)), nil
	}
	return s.structured("handleAcceptMatch", rec)
}

func (s *Server) handleListMatches(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.log.Debug("handleListMatches: Starting tool call", "arguments", request.GetArguments())

	page, err := s.matcher.ListMatches(ctx, store.Filter{
		SourceID:    request.GetString("source_id", ""),
		TargetID:    request.GetString("target_id", ""),
		CatalogKind: types.CatalogKind(request.GetString("catalog_kind", "")),
		ManualOnly:  request.GetBool("manual_only", false),
		Offset:      int(request.GetFloat("offset", 0)),
		Limit:       int(request.GetFloat("limit", store.DefaultLimit)),
	})
	if err != nil {
		s.log.Error("List matches failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("List failed: %v", err)), nil
	}
	return s.structured("handleListMatches", page)
}

func (s *Server) handleDeleteMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.log.Debug("handleDeleteMatch: Starting tool call", "arguments", request.GetArguments())

	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Missing required parameter 'id': %v", err)), nil
	}
	rec, err := s.matcher.DeleteMatch(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("No match with id %q", id)), nil
		}
		s.log.Error("Delete match failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
	}
	return s.structured("handleDeleteMatch", DeleteMatchResponse{Deleted: rec})
}

func (s *Server) handleNutritionBreakdown(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.log.Debug("handleNutritionBreakdown: Starting tool call", "arguments", request.GetArguments())

	req := service.BreakdownRequest{
		RecipeID:  request.GetString("recipe_id", ""),
		AutoMatch: request.GetBool("auto_match", false),
	}
	if raw, ok := request.GetArguments()["recipe"]; ok && raw != nil {
		recipe, err := decodeRecipe(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid parameter 'recipe': %v", err)), nil
		}
		req.Recipe = &recipe
	}

	b, err := s.matcher.Breakdown(ctx, req)
	if err != nil {
		s.log.Error("Nutrition breakdown failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Breakdown failed: %v", err)), nil
	}
	return s.structured("handleNutritionBreakdown", b)
}

// decodeRecipe converts the loosely typed tool argument into a recipe
func decodeRecipe(raw any) (types.Recipe, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return types.Recipe{}, err
	}
	var recipe types.Recipe
	if err := json.Unmarshal(data, &recipe); err != nil {
		return types.Recipe{}, err
	}
	return recipe, nil
}

// structured returns the response as structured content with a JSON text
// fallback for clients that ignore structured content
func (s *Server) structured(handler string, response any) (*mcp.CallToolResult, error) {
	responseJSON, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		s.log.Error(handler+": Failed to marshal response", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal response: %v", err)), nil
	}
	s.log.Debug(handler+": Returning structured result", "response_size", len(responseJSON))
	return mcp.NewToolResultStructured(response, string(responseJSON)), nil
}

// Handler returns the HTTP mux with /health and /mcp
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := s.checkHealthWithCache(r.Context()); err != nil {
			s.log.Error("Health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"status": "healthy"})
	})

	streamableServer := server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovery := recover(); recovery != nil {
				s.log.Error("MCP endpoint panic recovered",
					"panic", recovery,
					"method", r.Method,
					"url", r.URL.String(),
					"remote_addr", r.RemoteAddr)
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Internal Server Error"))
			}
		}()

		s.log.Debug("MCP request received",
			"method", r.Method,
			"content_type", r.Header.Get("Content-Type"),
			"content_length", r.ContentLength,
			"remote_addr", r.RemoteAddr)

		recorder := &responseRecorder{ResponseWriter: w}
		streamableServer.ServeHTTP(recorder, r)

		s.log.Debug("MCP response sent",
			"status_code", recorder.statusCode,
			"response_size", recorder.bytesWritten,
			"content_type", recorder.Header().Get("Content-Type"))
	})

	return mux
}

// ServeHTTP serves the MCP server over streamable HTTP
func (s *Server) ServeHTTP(addr string) error {
	s.log.Info("Starting MCP server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeStdio serves the MCP server over stdio
func (s *Server) ServeStdio() error {
	s.log.Info("Starting MCP server in stdio mode")
	return server.ServeStdio(s.mcpServer)
}
