package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stagewatch/stagewatch/docs"
)

// swaggerPage renders Swagger UI against the embedded spec. Assets
// load from the CDN so the binary stays self-contained apart from
// docs browsing.
const swaggerPage = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>StageWatch API</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css">
    <style>
        body { margin: 0; background: #fafafa; }
        .swagger-ui .topbar { display: none; }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            window.ui = SwaggerUIBundle({
                url: "/openapi.yaml",
                dom_id: "#swagger-ui",
                deepLinking: true,
                presets: [SwaggerUIBundle.presets.apis],
                layout: "BaseLayout",
                persistAuthorization: true,
                displayRequestDuration: true
            });
        };
    </script>
</body>
</html>`

// DocsHandler serves the OpenAPI document and its UI.
type DocsHandler struct{}

// NewDocsHandler creates a new docs handler
func NewDocsHandler() *DocsHandler {
	return &DocsHandler{}
}

// RegisterRoutes registers documentation routes
func (h *DocsHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/openapi.yaml", h.ServeOpenAPISpec)
	app.Get("/docs", h.ServeSwaggerUI)
	app.Get("/docs/*", h.ServeSwaggerUI)
}

// ServeOpenAPISpec serves the OpenAPI YAML specification
func (h *DocsHandler) ServeOpenAPISpec(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "application/x-yaml")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	return c.Send(docs.OpenAPISpec)
}

// ServeSwaggerUI serves the Swagger UI HTML page
func (h *DocsHandler) ServeSwaggerUI(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(swaggerPage)
}
