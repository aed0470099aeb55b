// Package docs registers the swagger document served under /swagger/ by
// pipeline-api. Keep it in step with the annotations on the api handlers.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/runs": {
            "get": {
                "description": "Get every recorded pipeline run, newest first",
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "List runs",
                "responses": {
                    "200": {"description": "List of runs", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal server error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/runs/{id}": {
            "get": {
                "description": "Retrieve the status and configuration of a run",
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Get run",
                "parameters": [{"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.RunRecord"}},
                    "404": {"description": "Run not found", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/runs/{id}/artifacts": {
            "get": {
                "produces": ["application/json"],
                "tags": ["files"],
                "summary": "List run artifacts",
                "parameters": [{"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "Artifacts", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Run or output directory not found", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/runs/{id}/errors": {
            "get": {
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Get run errors",
                "parameters": [{"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "Run errors", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Run not found", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/runs/{id}/ledger": {
            "get": {
                "description": "Retrieve every read-count transition recorded for a run",
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Get run ledger",
                "parameters": [{"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "Ledger entries", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Run not found", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/runs/{id}/progress": {
            "get": {
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Get run progress",
                "parameters": [{"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "Stage progress", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Run not found", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/runs/{id}/summary": {
            "get": {
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Get run summary",
                "parameters": [{"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/pipeline.RunReport"}},
                    "404": {"description": "Run or summary not found", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        }
    },
    "definitions": {
        "model.LedgerEntry": {
            "type": "object",
            "properties": {
                "absolute": {"type": "boolean"},
                "after": {"type": "integer"},
                "before": {"type": "integer"},
                "delta": {"type": "integer"},
                "reason": {"type": "string"},
                "seq": {"type": "integer"},
                "stage": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        },
        "model.Outputs": {
            "type": "object",
            "properties": {
                "classified_reads": {"type": "integer"},
                "classify_input": {"type": "integer"},
                "duration": {"type": "integer"},
                "input_reads": {"type": "integer"},
                "resumed": {"type": "boolean"},
                "run_id": {"type": "string"},
                "table_path": {"type": "string"},
                "taxa": {"type": "integer"},
                "taxonomy_path": {"type": "string"}
            }
        },
        "model.StageMetrics": {
            "type": "object",
            "properties": {
                "detail": {"type": "string"},
                "duration": {"type": "integer"},
                "end_time": {"type": "string"},
                "failed": {"type": "integer"},
                "files": {"type": "integer"},
                "stage": {"type": "string"},
                "start_time": {"type": "string"},
                "status": {"type": "string"},
                "workers": {"type": "integer"}
            }
        },
        "pipeline.ExportInfo": {
            "type": "object",
            "properties": {
                "exported_at": {"type": "string"},
                "retained_pct": {"type": "number"},
                "run_id": {"type": "string"}
            }
        },
        "pipeline.RunReport": {
            "type": "object",
            "properties": {
                "export_info": {"$ref": "#/definitions/pipeline.ExportInfo"},
                "ledger": {"type": "array", "items": {"$ref": "#/definitions/model.LedgerEntry"}},
                "outputs": {"$ref": "#/definitions/model.Outputs"},
                "stages": {"type": "array", "items": {"$ref": "#/definitions/model.StageMetrics"}}
            }
        },
        "model.RunRecord": {
            "type": "object",
            "properties": {
                "config": {"type": "string"},
                "created_at": {"type": "string"},
                "finished_at": {"type": "string"},
                "id": {"type": "string"},
                "resumed": {"type": "boolean"},
                "status": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Amplicon Pipeline API",
	Description:      "Read-only access to amplicon pipeline runs: status, stage progress, read-count ledger and artifacts.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
