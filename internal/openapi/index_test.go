package openapi

import (
	"context"
	"testing"
)

const testDocument = `{
  "openapi": "3.0.3",
  "info": {"title": "control plane", "version": "1.0"},
  "paths": {
    "/databases/{organization}/{project}": {
      "get": {
        "summary": "List databases",
        "x-ui": {"order": 2},
        "parameters": [
          {"name": "organization", "in": "path", "required": true, "schema": {"type": "string"}},
          {"name": "project", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/databases/{organization}/{project}/{database}": {
      "parameters": [
        {"name": "organization", "in": "path", "required": true, "schema": {"type": "string"}},
        {"name": "project", "in": "path", "required": true, "schema": {"type": "string"}},
        {"name": "database", "in": "path", "required": true, "schema": {"type": "string"}}
      ],
      "put": {
        "operationId": "createDatabase",
        "requestBody": {
          "content": {
            "application/json": {
              "schema": {"$ref": "#/components/schemas/Database"}
            }
          }
        },
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/projects/{organization}": {
      "get": {
        "x-ui": true,
        "parameters": [
          {"name": "organization", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    }
  },
  "components": {
    "schemas": {
      "Database": {
        "type": "object",
        "required": ["dbaPassword"],
        "properties": {
          "dbaPassword": {"type": "string"},
          "tier": {"type": "string", "pattern": "^n[0-9]"}
        }
      }
    }
  }
}`

func loadTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Load(context.Background(), []byte(testDocument))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return idx
}

func TestLoad(t *testing.T) {
	idx := loadTestIndex(t)
	if idx.Len() != 3 {
		t.Errorf("Len() = %d, want 3", idx.Len())
	}
	if err := idx.ValidationErr(); err != nil {
		t.Errorf("ValidationErr() = %v, want nil", err)
	}
}

func TestLoad_InvalidDocument(t *testing.T) {
	if _, err := Load(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("expected error for malformed document")
	}
}

func TestGetOperation_MergesPathParameters(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.GetOperation("put", "/databases/{organization}/{project}/{database}")
	if !ok {
		t.Fatal("operation not found")
	}
	if op.OperationID != "createDatabase" {
		t.Errorf("OperationID = %q", op.OperationID)
	}
	if len(op.Parameters) != 3 {
		t.Errorf("Parameters = %d, want 3", len(op.Parameters))
	}
	if op.RequestBody == nil {
		t.Error("RequestBody should be resolved")
	}
}

func TestNavigation(t *testing.T) {
	idx := loadTestIndex(t)

	nav := idx.Navigation()
	if len(nav) != 2 {
		t.Fatalf("Navigation() = %d entries, want 2", len(nav))
	}
	if nav[0].Path != "/databases/{organization}/{project}" || nav[0].Label != "List databases" {
		t.Errorf("nav[0] = %+v", nav[0])
	}
	if nav[1].Path != "/projects/{organization}" || nav[1].Label != "/projects/{organization}" {
		t.Errorf("nav[1] = %+v", nav[1])
	}
}

func TestValidateRequest(t *testing.T) {
	idx := loadTestIndex(t)
	path := "/databases/{organization}/{project}/{database}"

	if errs := idx.ValidateRequest("PUT", path, map[string]any{"dbaPassword": "secret", "tier": "n0.small"}); len(errs) != 0 {
		t.Errorf("valid body: errs = %+v", errs)
	}

	errs := idx.ValidateRequest("PUT", path, map[string]any{"tier": "large"})
	if len(errs) < 2 {
		t.Fatalf("errs = %+v, want missing property and pattern errors", errs)
	}
}

func TestValidateRequest_UnknownOperation(t *testing.T) {
	idx := loadTestIndex(t)
	if errs := idx.ValidateRequest("DELETE", "/nothing", nil); len(errs) != 1 {
		t.Errorf("errs = %+v, want 1", errs)
	}
}

func TestValidateRequest_NoBody(t *testing.T) {
	idx := loadTestIndex(t)
	if errs := idx.ValidateRequest("GET", "/projects/{organization}", nil); errs != nil {
		t.Errorf("errs = %+v, want nil", errs)
	}
}
