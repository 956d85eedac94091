// Package auth registers the OpenAPI document for the CMS auth API with swag
// so httpSwagger can serve it at /swagger/doc.json. Keep swagger.json in step
// with the handler annotations in internal/auth/http.
package auth

import (
	_ "embed"

	"github.com/swaggo/swag"
)

//go:embed swagger.json
var docTemplate string

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "CMS Authentication API",
	Description:      "Cookie-based access/refresh JWT sessions for the CMS.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
