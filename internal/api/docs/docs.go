// Package docs registers the OpenAPI description of the management API with
// swag so that gin-swagger can serve it.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "Returns ok while the API is serving",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "system"
                ],
                "summary": "Health check",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/models.StatusResponse"
                        }
                    }
                }
            }
        },
        "/status": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Returns the lifecycle phase, production generation, listeners and query counters",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "system"
                ],
                "summary": "Server status",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/models.ServerStatusResponse"
                        }
                    }
                }
            }
        },
        "/reload": {
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Re-reads the configuration file and publishes a new generation",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "system"
                ],
                "summary": "Reload configuration",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/models.ReloadResponse"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/models.ErrorResponse"
                        }
                    },
                    "422": {
                        "description": "Unprocessable Entity",
                        "schema": {
                            "$ref": "#/definitions/models.ErrorResponse"
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "$ref": "#/definitions/models.ErrorResponse"
                        }
                    },
                    "504": {
                        "description": "Gateway Timeout",
                        "schema": {
                            "$ref": "#/definitions/models.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/views": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Returns the views of the production generation in match order",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "views"
                ],
                "summary": "List views",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/models.ViewListResponse"
                        }
                    }
                }
            }
        },
        "/views/{view}/cache": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Writes the view cache in master file format",
                "produces": [
                    "text/plain"
                ],
                "tags": [
                    "views"
                ],
                "summary": "Dump view cache",
                "parameters": [
                    {
                        "type": "string",
                        "description": "View name",
                        "name": "view",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "View class (IN, CH, HS)",
                        "name": "class",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "master file",
                        "schema": {
                            "type": "string"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/models.ErrorResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/models.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/views/{view}/zones": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Returns the zones of one view of the production generation",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "views"
                ],
                "summary": "List zones of a view",
                "parameters": [
                    {
                        "type": "string",
                        "description": "View name",
                        "name": "view",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "View class (IN, CH, HS)",
                        "name": "class",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/models.ZoneListResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/models.ErrorResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/models.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/views/{view}/zones/{zone}": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "Returns a zone of a view with all of its records",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "views"
                ],
                "summary": "Get zone",
                "parameters": [
                    {
                        "type": "string",
                        "description": "View name",
                        "name": "view",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "Zone origin",
                        "name": "zone",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "View class (IN, CH, HS)",
                        "name": "class",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/models.ZoneDetailResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/models.ErrorResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/models.ErrorResponse"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "models.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "string"
                }
            }
        },
        "models.QueryStats": {
            "type": "object",
            "properties": {
                "total": {
                    "type": "integer"
                },
                "active": {
                    "type": "integer"
                }
            }
        },
        "models.ReloadResponse": {
            "type": "object",
            "properties": {
                "status": {
                    "type": "string"
                },
                "generation": {
                    "type": "string"
                }
            }
        },
        "models.ServerStatusResponse": {
            "type": "object",
            "properties": {
                "phase": {
                    "type": "string"
                },
                "generation": {
                    "type": "string"
                },
                "views": {
                    "type": "integer"
                },
                "zones": {
                    "type": "integer"
                },
                "managed_zones": {
                    "type": "integer"
                },
                "started": {
                    "type": "string"
                },
                "last_reload": {
                    "type": "string"
                },
                "last_error": {
                    "type": "string"
                },
                "listening": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "uptime": {
                    "type": "string"
                },
                "goroutines": {
                    "type": "integer"
                },
                "memory_alloc_mb": {
                    "type": "number"
                },
                "queries": {
                    "$ref": "#/definitions/models.QueryStats"
                }
            }
        },
        "models.StatusResponse": {
            "type": "object",
            "properties": {
                "status": {
                    "type": "string"
                }
            }
        },
        "models.ViewListResponse": {
            "type": "object",
            "properties": {
                "generation": {
                    "type": "string"
                },
                "views": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/models.ViewSummary"
                    }
                },
                "count": {
                    "type": "integer"
                }
            }
        },
        "models.ViewSummary": {
            "type": "object",
            "properties": {
                "name": {
                    "type": "string"
                },
                "class": {
                    "type": "string"
                },
                "state": {
                    "type": "string"
                },
                "zones": {
                    "type": "integer"
                },
                "recursion": {
                    "type": "boolean"
                },
                "keys": {
                    "type": "integer"
                }
            }
        },
        "models.ZoneDetailResponse": {
            "type": "object",
            "properties": {
                "name": {
                    "type": "string"
                },
                "class": {
                    "type": "string"
                },
                "type": {
                    "type": "string"
                },
                "loaded": {
                    "type": "boolean"
                },
                "serial": {
                    "type": "integer"
                },
                "record_count": {
                    "type": "integer"
                },
                "file_path": {
                    "type": "string"
                },
                "database": {
                    "type": "string"
                },
                "view": {
                    "type": "string"
                },
                "records": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/models.ZoneRecord"
                    }
                }
            }
        },
        "models.ZoneListResponse": {
            "type": "object",
            "properties": {
                "view": {
                    "type": "string"
                },
                "zones": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/models.ZoneSummary"
                    }
                },
                "count": {
                    "type": "integer"
                }
            }
        },
        "models.ZoneRecord": {
            "type": "object",
            "properties": {
                "name": {
                    "type": "string"
                },
                "ttl": {
                    "type": "integer"
                },
                "type": {
                    "type": "string"
                },
                "value": {
                    "type": "string"
                }
            }
        },
        "models.ZoneSummary": {
            "type": "object",
            "properties": {
                "name": {
                    "type": "string"
                },
                "class": {
                    "type": "string"
                },
                "type": {
                    "type": "string"
                },
                "loaded": {
                    "type": "boolean"
                },
                "serial": {
                    "type": "integer"
                },
                "record_count": {
                    "type": "integer"
                },
                "file_path": {
                    "type": "string"
                },
                "database": {
                    "type": "string"
                }
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "X-API-Key",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "hydranamed Management API",
	Description:      "REST API for inspecting and reloading the hydranamed name server.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
