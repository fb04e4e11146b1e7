// Package docs holds the OpenAPI description of the HTTP API. It is
// regenerated with `swag init -g cmd/stepllm/docs.go -o internal/httpapi/docs`
// and served by the Swagger UI when built with -tags swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "stepllm maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/infer": {
            "post": {
                "description": "Streams NDJSON: {\"token\": ...} lines when stream is set, then a final line with the full content, finish reason and usage.",
                "consumes": ["application/json"],
                "produces": ["application/x-ndjson"],
                "tags": ["inference"],
                "summary": "Generate text",
                "parameters": [
                    {
                        "description": "Prompt or chat messages",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.InferRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.InferDone"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/models": {
            "get": {
                "description": "Models found in the registry.",
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List models",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "description": "Loaded instances, queues and lifecycle counters.",
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Server status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        },
        "/switch": {
            "post": {
                "description": "Returns an operation id; progress shows in /status.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Load a model in the background",
                "parameters": [
                    {
                        "description": "Model to load",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.SwitchRequest"}
                    }
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.SwitchResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/unload": {
            "post": {
                "description": "Drains in-flight requests, then frees the model.",
                "consumes": ["application/json"],
                "tags": ["models"],
                "summary": "Unload a model",
                "parameters": [
                    {
                        "description": "Model to unload",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.SwitchRequest"}
                    }
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ChatMessage": {
            "type": "object",
            "properties": {
                "content": {"type": "string", "example": "Write a haiku about the ocean."},
                "role": {"type": "string", "example": "user"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 400},
                "error": {"type": "string", "example": "invalid JSON body"}
            }
        },
        "types.InferDone": {
            "type": "object",
            "properties": {
                "content": {"type": "string"},
                "done": {"type": "boolean", "example": true},
                "finish_reason": {"type": "string", "example": "stop"},
                "usage": {"$ref": "#/definitions/types.Usage"}
            }
        },
        "types.InferRequest": {
            "type": "object",
            "properties": {
                "format": {"type": "string", "example": "llama2"},
                "max_tokens": {"type": "integer", "example": 128},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/types.ChatMessage"}},
                "model": {"type": "string", "example": "tinyllama-q4"},
                "prompt": {"type": "string", "example": "USER: Write a haiku about the ocean.\nASSISTANT: "},
                "repeat_penalty": {"type": "number", "example": 1.1},
                "seed": {"type": "integer", "example": 42},
                "stop": {"type": "array", "items": {"type": "string"}, "example": ["\n\n", "END"]},
                "stream": {"type": "boolean", "example": true},
                "temperature": {"type": "number", "example": 0.7},
                "top_k": {"type": "integer", "example": 40},
                "top_p": {"type": "number", "example": 0.9}
            }
        },
        "types.InstanceStatus": {
            "type": "object",
            "properties": {
                "batch_size": {"type": "integer", "example": 512},
                "context_size": {"type": "integer", "example": 4096},
                "inflight": {"type": "integer", "example": 1},
                "last_used_unix": {"type": "integer", "example": 1700000000},
                "max_queue_depth": {"type": "integer", "example": 32},
                "model_id": {"type": "string", "example": "tinyllama-q4"},
                "queue_len": {"type": "integer", "example": 0},
                "state": {"type": "string", "example": "ready"}
            }
        },
        "types.Model": {
            "type": "object",
            "properties": {
                "chat_format": {"type": "string", "example": "turn"},
                "family": {"type": "string", "example": "llama"},
                "id": {"type": "string", "example": "tinyllama-q4"},
                "name": {"type": "string", "example": "tinyllama"},
                "path": {"type": "string", "example": "/models/tinyllama.Q4_K_M.gguf"},
                "quant": {"type": "string", "example": "Q4_K_M"}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {
                "models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "backend": {"type": "string", "example": "llama"},
                "draining_count": {"type": "integer", "example": 1},
                "error": {"type": "string"},
                "evictions_total": {"type": "integer", "example": 5},
                "idle_unloads_total": {"type": "integer", "example": 3},
                "instances": {"type": "array", "items": {"$ref": "#/definitions/types.InstanceStatus"}},
                "loads_total": {"type": "integer", "example": 12},
                "max_instances": {"type": "integer", "example": 1},
                "server_time_unix": {"type": "integer", "example": 1700000000},
                "state": {"type": "string", "example": "ready"},
                "uptime_seconds": {"type": "integer", "example": 3600},
                "warmups_in_progress": {"type": "integer", "example": 1}
            }
        },
        "types.SwitchRequest": {
            "type": "object",
            "properties": {
                "model": {"type": "string", "example": "tinyllama-q4"}
            }
        },
        "types.SwitchResponse": {
            "type": "object",
            "properties": {
                "op_id": {"type": "string", "example": "op-1"}
            }
        },
        "types.Usage": {
            "type": "object",
            "properties": {
                "completion_tokens": {"type": "integer", "example": 64},
                "prompt_tokens": {"type": "integer", "example": 12},
                "total_tokens": {"type": "integer", "example": 76}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "stepllm API",
	Description:      "HTTP API for local LLM inference with step-wise token generation.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
