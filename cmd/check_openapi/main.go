package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	Paths      map[string]map[string]operation `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type operation struct {
	Responses map[string]response `yaml:"responses"`
}

type response struct {
	Ref     string `yaml:"$ref"`
	Content map[string]struct {
		Schema schema `yaml:"schema"`
	} `yaml:"content"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

// routes lists every method and path the catalog service serves.
var routes = map[string][]string{
	"/healthz":            {"get"},
	"/books":              {"get", "post"},
	"/books/filter":       {"get"},
	"/books/{id}":         {"get", "put", "patch", "delete"},
	"/books/{id}/cover":   {"post"},
	"/books/{id}/reviews": {"get", "post"},
	"/reviews/{id}":       {"put", "delete"},
	"/users/register":     {"post"},
	"/users/login":        {"post"},
	"/users/refresh":      {"post"},
	"/users/logout":       {"post"},
	"/users/profile":      {"get"},
	"/users/dashboard":    {"get"},
	"/users/admin":        {"get"},
	"/media/{path}":       {"get"},
}

const errorResponseRef = "#/components/schemas/ErrorResponse"

func main() {
	path := "api/openapi.yaml"
	switch len(os.Args) {
	case 1:
	case 2:
		path = os.Args[1]
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [openapi.yaml]\n", os.Args[0])
		os.Exit(2)
	}

	doc, err := loadDoc(path)
	if err != nil {
		exitErr(err)
	}
	if err := check(doc); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

// check validates the error envelope schemas, that every served route is
// documented, and that every documented 4xx/5xx response uses the envelope.
func check(doc openAPIDoc) error {
	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errResp); err != nil {
		return err
	}
	detail, err := getSchema(doc, "ErrorDetail")
	if err != nil {
		return err
	}
	if err := validateErrorDetail(detail); err != nil {
		return err
	}
	if err := validateRoutes(doc); err != nil {
		return err
	}
	return validateErrorResponses(doc)
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("ErrorResponse.required must include %q", field)
		}
	}
	for _, field := range []string{"error", "code", "requestId"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	detailsProp, ok := s.Properties["details"]
	if !ok || detailsProp.Type != "array" {
		return errors.New("ErrorResponse.details must be array")
	}
	if detailsProp.Items == nil || strings.TrimSpace(detailsProp.Items.Ref) != "#/components/schemas/ErrorDetail" {
		return errors.New("ErrorResponse.details.items must reference ErrorDetail")
	}
	return nil
}

func validateErrorDetail(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorDetail must be object")
	}
	required := makeSet(s.Required)
	if !required["reason"] {
		return errors.New("ErrorDetail.required must include \"reason\"")
	}
	for _, field := range []string{"reason", "field"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorDetail.%s must be string", field)
		}
	}
	return nil
}

func validateRoutes(doc openAPIDoc) error {
	var missing []string
	for path, methods := range routes {
		ops, ok := doc.Paths[path]
		if !ok {
			missing = append(missing, path)
			continue
		}
		for _, method := range methods {
			if _, ok := ops[method]; !ok {
				missing = append(missing, strings.ToUpper(method)+" "+path)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("undocumented routes: %s", strings.Join(missing, ", "))
	}
	return nil
}

func validateErrorResponses(doc openAPIDoc) error {
	for path, ops := range doc.Paths {
		for method, op := range ops {
			for status, resp := range op.Responses {
				if !strings.HasPrefix(status, "4") && !strings.HasPrefix(status, "5") {
					continue
				}
				if !usesEnvelope(resp) {
					return fmt.Errorf("%s %s response %s must use ErrorResponse", strings.ToUpper(method), path, status)
				}
			}
		}
	}
	return nil
}

// usesEnvelope accepts either a shared response component or an inline
// application/json body referencing ErrorResponse.
func usesEnvelope(resp response) bool {
	if strings.HasPrefix(strings.TrimSpace(resp.Ref), "#/components/responses/") {
		return true
	}
	body, ok := resp.Content["application/json"]
	return ok && strings.TrimSpace(body.Schema.Ref) == errorResponseRef
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
