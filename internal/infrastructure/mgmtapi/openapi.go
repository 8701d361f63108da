package mgmtapi

import (
	"encoding/json"
	"net/http"

	obs "github.com/guillaumemeyer/maegashira/internal/infrastructure/observability"
)

// handleOpenAPI serves the OpenAPI description of the management surface.
func (d *Deps) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(openAPIDocument())
}

func openAPIDocument() map[string]any {
	bearer := []map[string]any{{"bearerAuth": []string{}}}
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":       "Maegashira management API",
			"description": "Side-channel for health, metrics and live routing-table updates.",
			"version":     obs.Version,
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]any{"type": "http", "scheme": "bearer"},
			},
			"schemas": map[string]any{
				"Route": map[string]any{
					"type":     "object",
					"required": []string{"hostname", "path", "targets"},
					"properties": map[string]any{
						"hostname":   map[string]any{"type": "string"},
						"path":       map[string]any{"type": "string"},
						"timeout_ms": map[string]any{"type": "integer"},
						"middlewares": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"pre":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
								"post": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
							},
						},
						"load_balancing": map[string]any{
							"type":       "object",
							"properties": map[string]any{"type": map[string]any{"type": "string", "enum": []string{"random"}}},
						},
						"authentication": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"type":     map[string]any{"type": "string", "enum": []string{"anonymous", "basic"}},
								"username": map[string]any{"type": "string"},
								"password": map[string]any{"type": "string"},
								"realm":    map[string]any{"type": "string"},
							},
						},
						"cache": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"type":   map[string]any{"type": "string", "enum": []string{"no-cache", "basic"}},
								"ttl_ms": map[string]any{"type": "integer"},
							},
						},
						"targets": map[string]any{
							"type":     "array",
							"minItems": 1,
							"items": map[string]any{
								"type":     "object",
								"required": []string{"type"},
								"properties": map[string]any{
									"type":      map[string]any{"type": "string", "enum": []string{"forward", "static", "redirect"}},
									"url":       map[string]any{"type": "string"},
									"directory": map[string]any{"type": "string"},
									"index":     map[string]any{"type": "string"},
								},
							},
						},
					},
				},
				"RoutingTable": map[string]any{
					"type":  "array",
					"items": map[string]any{"$ref": "#/components/schemas/Route"},
				},
			},
		},
		"paths": map[string]any{
			"/health": map[string]any{
				"get": map[string]any{
					"summary":   "Liveness probe",
					"responses": map[string]any{"200": map[string]any{"description": `{"status":"ok"}`}},
				},
			},
			"/metrics": map[string]any{
				"get": map[string]any{
					"summary":   "Cluster-aggregated metrics in Prometheus text format",
					"responses": map[string]any{"200": map[string]any{"description": "metrics exposition"}},
				},
			},
			"/routes": map[string]any{
				"get": map[string]any{
					"summary":  "Current routing table",
					"security": bearer,
					"responses": map[string]any{
						"200": map[string]any{"description": "the installed table"},
						"401": map[string]any{"description": "missing or invalid API key"},
					},
				},
				"post": map[string]any{
					"summary":  "Replace the routing table",
					"security": bearer,
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{"$ref": "#/components/schemas/RoutingTable"},
							},
						},
					},
					"responses": map[string]any{
						"200": map[string]any{"description": "table installed and broadcast"},
						"400": map[string]any{"description": "validation failed; body carries the error list"},
						"401": map[string]any{"description": "missing or invalid API key"},
					},
				},
			},
			"/monitor/ws": map[string]any{
				"get": map[string]any{
					"summary":   "WebSocket stream of live transaction summaries",
					"responses": map[string]any{"101": map[string]any{"description": "switching protocols"}},
				},
			},
		},
	}
}
