package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
)

// MeasureDefinition defines a reporting measure with its SQL query.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "session-volume-by-status",
		Name:        "Session Volume by Status",
		Description: "Number of video sessions grouped by lifecycle status",
		SQL:         `SELECT status, COUNT(*) AS total FROM video_session GROUP BY status ORDER BY total DESC`,
		Parameters:  []string{},
	},
	{
		ID:          "usage-minutes-by-practice",
		Name:        "Usage Minutes by Practice",
		Description: "Total billable call minutes and session count per practice, from the usage ledger",
		SQL: `SELECT practice_id, COUNT(*) AS sessions,
			COALESCE(SUM(duration_seconds), 0) / 60 AS total_minutes
			FROM usage_record GROUP BY practice_id ORDER BY total_minutes DESC`,
		Parameters: []string{},
	},
	{
		ID:          "recording-rate",
		Name:        "Recording Rate",
		Description: "Share of ended sessions that were recorded",
		SQL: `SELECT COUNT(*) AS ended,
			COALESCE(SUM(CASE WHEN recording_started_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS recorded
			FROM video_session WHERE status = 'ended'`,
		Parameters: []string{},
	},
	{
		ID:          "guest-link-funnel",
		Name:        "Guest Link Funnel",
		Description: "Guest links issued, used, expired unused, and revoked",
		SQL: `SELECT COUNT(*) AS issued,
			COALESCE(SUM(CASE WHEN access_count > 0 THEN 1 ELSE 0 END), 0) AS used,
			COALESCE(SUM(CASE WHEN access_count = 0 AND expires_at < NOW() THEN 1 ELSE 0 END), 0) AS expired_unused,
			COALESCE(SUM(CASE WHEN is_revoked THEN 1 ELSE 0 END), 0) AS revoked
			FROM guest_access_token`,
		Parameters: []string{},
	},
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler creates a new reporting handler.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole("provider", "owner", "staff"))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measureID := c.Param("id")

	measure := FindMeasure(measureID)
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params := map[string]string{}
	for _, p := range measure.Parameters {
		if v := c.QueryParam(p); v != "" {
			params[p] = v
		}
	}

	results, err := h.executeSQL(c.Request().Context(), measure.SQL)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}

	report := MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now(),
		Results:     results,
		Parameters:  params,
	}

	return c.JSON(http.StatusOK, report)
}

// executeSQL runs a SQL query and returns results as a slice of maps.
func (h *Handler) executeSQL(ctx context.Context, sql string) ([]map[string]interface{}, error) {
	rows, err := h.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	var results []map[string]interface{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[string(fd.Name)] = values[i]
		}
		results = append(results, row)
	}

	if results == nil {
		results = []map[string]interface{}{}
	}

	return results, nil
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
