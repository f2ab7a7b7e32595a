package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/config"
)

const deadEndWorkflow = `entity_type: site_instruction
name: Site Instruction
version: "1.0.0"

states:
  - id: draft
    initial: true
  - id: issued
  - id: closed
    final: true

transitions:
  - from: draft
    to: issued
    action: issue
    required_roles: [site_supervisor]
`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "workflow.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write workflow: %v", err)
	}
	return dir
}

func TestCheckWorkflows_builtins(t *testing.T) {
	var out bytes.Buffer
	if err := checkWorkflows(&out, config.Defaults()); err != nil {
		t.Fatalf("checkWorkflows() error = %v\n%s", err, out.String())
	}

	report := out.String()
	for _, want := range []string{
		"shop_drawing: ok (0 errors",
		"material_spec: ok (0 errors",
		"milestone: ok (0 errors",
		"report: ok (0 errors",
		"4 workflows, checksum ",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestCheckWorkflows_integrityErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.Definitions.IncludeBuiltin = false
	cfg.Definitions.Directories = []string{writeWorkflow(t, deadEndWorkflow)}

	var out bytes.Buffer
	err := checkWorkflows(&out, cfg)
	if err == nil {
		t.Fatal("checkWorkflows() should fail on a reachable dead end")
	}
	if !strings.Contains(out.String(), "site_instruction: FAILED") {
		t.Errorf("report = %q, want FAILED line", out.String())
	}
	if !strings.Contains(out.String(), `  error: `) {
		t.Errorf("report should list errors:\n%s", out.String())
	}
}

func TestCheckWorkflows_missingPolicy(t *testing.T) {
	cfg := config.Defaults()
	cfg.Roles.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")

	if err := checkWorkflows(&bytes.Buffer{}, cfg); err == nil {
		t.Fatal("checkWorkflows() should fail when the policy file is missing")
	}
}

func TestLoadRegistry(t *testing.T) {
	resolver, err := buildResolver(config.RolesConfig{})
	if err != nil {
		t.Fatalf("buildResolver() error = %v", err)
	}

	registry, err := loadRegistry(config.Defaults().Definitions, resolver, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("loadRegistry() error = %v", err)
	}
	if registry.Len() != 4 {
		t.Errorf("Len() = %d, want 4", registry.Len())
	}

	bad := config.DefinitionsConfig{Directories: []string{writeWorkflow(t, deadEndWorkflow)}}
	if _, err := loadRegistry(bad, resolver, zap.NewNop(), nil); err == nil {
		t.Error("loadRegistry() should reject definitions with integrity errors")
	}
}

func TestBuildStores_memory(t *testing.T) {
	ctx := t.Context()
	cfg := config.Defaults()

	store, closer, err := buildDocumentStore(ctx, cfg.Workflow.Store, zap.NewNop())
	if err != nil || store == nil || closer != nil {
		t.Errorf("buildDocumentStore() = %v, %v, %v", store, closer != nil, err)
	}

	idem, closer, err := buildIdempotencyStore(ctx, cfg.Idempotency, zap.NewNop())
	if err != nil || idem == nil || closer != nil {
		t.Errorf("buildIdempotencyStore() = %v, %v, %v", idem, closer != nil, err)
	}

	cfg.Idempotency.Enabled = false
	idem, _, err = buildIdempotencyStore(ctx, cfg.Idempotency, zap.NewNop())
	if err != nil || idem != nil {
		t.Errorf("disabled idempotency = %v, %v, want nil store", idem, err)
	}
}

func TestBuildStores_missingEnv(t *testing.T) {
	ctx := t.Context()
	cfg := config.Defaults()

	cfg.Workflow.Store.Driver = config.DriverPostgres
	cfg.Workflow.Store.DSNEnv = "DOCFLOW_TEST_UNSET_DSN"
	if _, _, err := buildDocumentStore(ctx, cfg.Workflow.Store, zap.NewNop()); err == nil {
		t.Error("postgres without a DSN should fail")
	}

	cfg.Idempotency.Store.Driver = config.DriverRedis
	cfg.Idempotency.Store.AddrEnv = "DOCFLOW_TEST_UNSET_ADDR"
	if _, _, err := buildIdempotencyStore(ctx, cfg.Idempotency, zap.NewNop()); err == nil {
		t.Error("redis without an address should fail")
	}
}
