// Package docs registers the gateway's OpenAPI description with swag.
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
        "/orders": {
            "get": {
                "tags": ["orders"],
                "summary": "List all orders (admin)",
                "parameters": [
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "paymentStatus", "in": "query"},
                    {"type": "string", "name": "userId", "in": "query"},
                    {"type": "string", "name": "orderNumber", "in": "query"},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/OrderPage"}}}
            },
            "post": {
                "tags": ["orders"],
                "summary": "Create an order for the caller",
                "parameters": [
                    {"name": "order", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateOrderRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/Order"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/orders/me": {
            "get": {
                "tags": ["orders"],
                "summary": "List the caller's orders",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/OrderPage"}}}
            }
        },
        "/orders/statistics": {
            "get": {
                "tags": ["orders"],
                "summary": "Order statistics (admin)",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/orders/number/{orderNumber}": {
            "get": {
                "tags": ["orders"],
                "summary": "Get an order by its order number",
                "parameters": [{"type": "string", "name": "orderNumber", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Order"}}}
            }
        },
        "/orders/{id}": {
            "get": {
                "tags": ["orders"],
                "summary": "Get an order",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Order"}}}
            },
            "delete": {
                "tags": ["orders"],
                "summary": "Delete an order (admin)",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/orders/{id}/status": {
            "patch": {
                "tags": ["orders"],
                "summary": "Update order or payment status (admin)",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "update", "in": "body", "required": true, "schema": {"$ref": "#/definitions/StatusUpdate"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Order"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/orders/{id}/cancel": {
            "post": {
                "tags": ["orders"],
                "summary": "Cancel one of the caller's orders",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Order"}}}
            }
        },
        "/orders/{id}/history": {
            "get": {
                "tags": ["orders"],
                "summary": "Audit trail of an order, newest first (admin)",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/History"}},
                    "501": {"description": "Not Implemented", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/pricing/quote": {
            "post": {
                "tags": ["pricing"],
                "summary": "Price a cart without creating an order",
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "Error": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "OrderItem": {
            "type": "object",
            "properties": {
                "productId": {"type": "string"},
                "sku": {"type": "string"},
                "productName": {"type": "string"},
                "quantity": {"type": "integer"},
                "unitPrice": {"type": "string"},
                "totalPrice": {"type": "string"}
            }
        },
        "Order": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "orderNumber": {"type": "string"},
                "userId": {"type": "string"},
                "status": {"type": "string"},
                "paymentStatus": {"type": "string"},
                "subtotal": {"type": "string"},
                "taxAmount": {"type": "string"},
                "shippingCost": {"type": "string"},
                "total": {"type": "string"},
                "items": {"type": "array", "items": {"$ref": "#/definitions/OrderItem"}}
            }
        },
        "OrderPage": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/Order"}},
                "meta": {"type": "object"}
            }
        },
        "CreateOrderRequest": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/OrderItem"}},
                "taxRate": {"type": "string"},
                "shippingCost": {"type": "string"},
                "shippingAddress": {"type": "object"},
                "billingAddress": {"type": "object"},
                "paymentMethod": {"type": "string"},
                "notes": {"type": "string"}
            }
        },
        "AuditLog": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "service": {"type": "string"},
                "action": {"type": "string"},
                "entityId": {"type": "string"},
                "actorId": {"type": "string"},
                "data": {"type": "object"},
                "createdAt": {"type": "string", "format": "date-time"}
            }
        },
        "History": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/AuditLog"}}
            }
        },
        "StatusUpdate": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "paymentStatus": {"type": "string"},
                "notes": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Order Shop API",
	Description:      "Order lifecycle and pricing gateway.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
