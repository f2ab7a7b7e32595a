package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/internal/definition"
	"github.com/pitabwire/docflow/internal/integrity"
)

// runCheck validates the configured workflows offline. Identity and store
// settings are not required.
func runCheck(configPath string) int {
	cfg, err := config.Read(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}
	if errs := cfg.ValidateDefinitions(); len(errs) > 0 {
		fmt.Fprintf(os.Stderr, "configuration error: %s\n", strings.Join(errs, "; "))
		return 1
	}
	if err := checkWorkflows(os.Stdout, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "check failed: %v\n", err)
		return 1
	}
	return 0
}

// checkWorkflows writes an integrity report for every configured workflow
// and the cross-workflow consistency warnings to w. It returns an error when
// any workflow has integrity errors or the set does not compile.
func checkWorkflows(w io.Writer, cfg *config.Config) error {
	resolver, err := buildResolver(cfg.Roles)
	if err != nil {
		return fmt.Errorf("role policy: %w", err)
	}
	defs, err := loadDefinitions(cfg.Definitions)
	if err != nil {
		return err
	}

	checker := integrity.NewChecker(resolver)
	failed := 0
	for _, def := range defs {
		report := checker.Validate(def)
		status := "ok"
		if !report.Valid {
			status = "FAILED"
			failed++
		}
		fmt.Fprintf(w, "%s: %s (%d errors, %d warnings)\n", def.EntityType, status, len(report.Errors), len(report.Warnings))
		for _, e := range report.Errors {
			fmt.Fprintf(w, "  error: %s\n", e)
		}
		for _, warn := range report.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d workflow definition(s) failed integrity checks", failed)
	}

	registry, err := definition.NewRegistry(resolver, defs)
	if err != nil {
		return err
	}
	for _, warn := range registry.ConsistencyCheck() {
		fmt.Fprintf(w, "consistency: %s\n", warn)
	}
	fmt.Fprintf(w, "%d workflows, checksum %s\n", registry.Len(), registry.Checksum())
	return nil
}
