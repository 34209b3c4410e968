package api

import (
	_ "embed"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

//go:embed openapi.yaml
var openAPISpec []byte

// SpecHandler serves the embedded OpenAPI YAML spec.
func SpecHandler(c echo.Context) error {
	return c.Blob(http.StatusOK, "application/yaml", openAPISpec)
}

// SwaggerHandler serves a Swagger UI page that points at the OpenAPI spec. The
// page uses the CDN-hosted assets so no static files are checked in.
func SwaggerHandler(c echo.Context) error {
	html := strings.ReplaceAll(swaggerHTML, "${SPEC_URL}", "/openapi.yaml")
	return c.HTML(http.StatusOK, html)
}

// Register mounts the health, docs and /api/v1 routes on e.
func Register(e *echo.Echo, h *Handler, s *Server) {
	e.GET("/health", h.HandleHealth)
	e.GET("/openapi.yaml", SpecHandler)
	e.GET("/docs", SwaggerHandler)
	RegisterHandlersWithBaseURL(e, s, "/api/v1")
}

const swaggerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Workflow API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
  <script>
  window.onload = function() {
    window.ui = SwaggerUIBundle({
      url: "${SPEC_URL}",
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout",
      requestInterceptor: function(req) {
        const tenant = window.localStorage.getItem("tenant");
        if (tenant && !req.headers["X-Tenant-ID"]) {
          req.headers["X-Tenant-ID"] = tenant;
        }
        return req;
      }
    });
  }
  </script>
</body>
</html>`
