// Package docs holds the OpenAPI document served at /api/docs. Regenerate
// with `swag init -g internal/http/router.go -o docs` after changing handler
// annotations.
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
        "/auth/login": {
            "post": {
                "description": "Exchanges email and password for an access/refresh token pair.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Sign in",
                "operationId": "login",
                "parameters": [
                    {
                        "description": "Credentials",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.LoginRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TokenPairResponse"}},
                    "400": {"description": "Invalid input", "schema": {"$ref": "#/definitions/handlers.ValidationErrorResponse"}},
                    "401": {"description": "Invalid login or password", "schema": {"$ref": "#/definitions/errfilter.Body"}},
                    "429": {"description": "Too many requests", "schema": {"$ref": "#/definitions/errfilter.Body"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Issues a new token pair for the bearer of a valid refresh token.",
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Refresh tokens",
                "operationId": "refreshTokens",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TokenPairResponse"}},
                    "400": {"description": "User no longer exists", "schema": {"$ref": "#/definitions/errfilter.Body"}},
                    "401": {"description": "Missing or invalid refresh token", "schema": {"$ref": "#/definitions/errfilter.Body"}}
                }
            }
        },
        "/users": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns all users, or one page when page or page_size is given. Supports weak ETag via If-None-Match and may return 304.",
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "List users",
                "operationId": "listUsers",
                "parameters": [
                    {"type": "string", "example": "W/\"users:1:0:0:0\"", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/handlers.ListUsersResponse"},
                        "headers": {"ETag": {"type": "string", "description": "Weak ETag for current result"}}
                    },
                    "304": {"description": "Not Modified", "schema": {"type": "string"}},
                    "401": {"description": "Missing or invalid access token", "schema": {"$ref": "#/definitions/errfilter.Body"}},
                    "500": {"description": "Database error", "schema": {"$ref": "#/definitions/errfilter.Body"}}
                }
            }
        },
        "/users/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Get a user",
                "operationId": "getUser",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "User ID (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.UserResponse"}},
                    "400": {"description": "Invalid id", "schema": {"$ref": "#/definitions/handlers.ValidationErrorResponse"}},
                    "401": {"description": "Missing or invalid access token", "schema": {"$ref": "#/definitions/errfilter.Body"}},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/errfilter.Body"}}
                }
            },
            "patch": {
                "security": [{"BearerAuth": []}],
                "description": "Partially updates name, email and/or password. Passwords are stored hashed.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Update a user",
                "operationId": "updateUser",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "User ID (UUID)", "name": "id", "in": "path", "required": true},
                    {
                        "description": "Fields to change",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.UpdateUserRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.UserResponse"}},
                    "400": {"description": "Invalid input", "schema": {"$ref": "#/definitions/handlers.ValidationErrorResponse"}},
                    "401": {"description": "Missing or invalid access token", "schema": {"$ref": "#/definitions/errfilter.Body"}},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/errfilter.Body"}},
                    "500": {"description": "Database error", "schema": {"$ref": "#/definitions/errfilter.Body"}}
                }
            }
        }
    },
    "definitions": {
        "apperr.FieldError": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "must be a valid email"},
                "field": {"type": "string", "example": "email"}
            }
        },
        "errfilter.Body": {
            "type": "object",
            "properties": {
                "errorCode": {"type": "string", "example": "common-error-with-message"},
                "message": {"type": "string", "example": "user not found"},
                "payload": {}
            }
        },
        "handlers.ListUsersResponse": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/handlers.UserResponse"}},
                "page": {"type": "integer"},
                "pageSize": {"type": "integer"},
                "total": {"type": "integer"},
                "totalPages": {"type": "integer"}
            }
        },
        "handlers.LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string", "maxLength": 255, "example": "admin@test.com"},
                "password": {"type": "string", "maxLength": 255}
            }
        },
        "handlers.TokenPairResponse": {
            "type": "object",
            "properties": {
                "accessToken": {"type": "string"},
                "refreshToken": {"type": "string"}
            }
        },
        "handlers.UpdateUserRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string", "maxLength": 255},
                "name": {"type": "string", "maxLength": 255, "minLength": 1},
                "password": {"type": "string", "maxLength": 72, "minLength": 1}
            }
        },
        "handlers.UserResponse": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "id": {"type": "string", "format": "uuid"},
                "name": {"type": "string"}
            }
        },
        "handlers.ValidationErrorResponse": {
            "type": "object",
            "properties": {
                "errorCode": {"type": "string", "example": "validation-failed"},
                "message": {"type": "string"},
                "payload": {"type": "array", "items": {"$ref": "#/definitions/apperr.FieldError"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and the JWT.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Users API",
	Description:      "Users and JWT authentication with a uniform error envelope.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
