package server

import (
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
)

//go:embed openapi.yaml
var openapiSpec []byte

// loadOpenAPISpec parses and validates the embedded API description so a
// broken document fails server construction instead of surfacing when a
// client fetches it.
func loadOpenAPISpec() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return doc, nil
}

func (s *Server) getOpenAPISpec(c echo.Context) error {
	return c.Blob(http.StatusOK, "application/yaml", openapiSpec)
}
