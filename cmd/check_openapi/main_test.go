package main

import (
	"strings"
	"testing"
)

func TestCheckedInDocumentPasses(t *testing.T) {
	doc, err := loadDoc("../../api/openapi.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := check(doc); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestCheckReportsUndocumentedRoutes(t *testing.T) {
	doc, err := loadDoc("../../api/openapi.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	delete(doc.Paths, "/reviews/{id}")
	delete(doc.Paths["/books"], "post")
	err = check(doc)
	if err == nil {
		t.Fatalf("expected undocumented route error")
	}
	for _, want := range []string{"/reviews/{id}", "POST /books"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestCheckRejectsBareErrorResponses(t *testing.T) {
	doc, err := loadDoc("../../api/openapi.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	doc.Paths["/healthz"]["get"].Responses["500"] = response{}
	if err := check(doc); err == nil || !strings.Contains(err.Error(), "/healthz") {
		t.Fatalf("expected envelope error for /healthz, got %v", err)
	}
}

func TestValidateErrorDetailRequiresReason(t *testing.T) {
	s := schema{
		Type: "object",
		Properties: map[string]schema{
			"field":  {Type: "string"},
			"reason": {Type: "string"},
		},
	}
	if err := validateErrorDetail(s); err == nil {
		t.Fatalf("expected error when reason is not required")
	}
	s.Required = []string{"reason"}
	if err := validateErrorDetail(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
