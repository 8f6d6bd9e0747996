package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	rbac "github.com/shanshuishenzhen/skillup-rbac"
	"github.com/shanshuishenzhen/skillup-rbac/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "check":
		handleCheck()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("rbac-config - Configuration tool for skillup-rbac")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  rbac-config convert <input> <output>                      - Convert between formats")
	fmt.Println("  rbac-config validate <file>                               - Validate configuration")
	fmt.Println("  rbac-config stats <file>                                  - Show configuration statistics")
	fmt.Println("  rbac-config check <file> <principal> <resource> <action>  - Evaluate an access check")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: rbac-config convert <input> <output>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, os.Args[3]); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", os.Args[2], os.Args[3])
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rbac-config validate <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Resources:   %d\n", len(cfg.Resources))
	fmt.Printf("  Assignments: %d\n", len(cfg.Assignments))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rbac-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Resources:   %d\n", len(cfg.Resources))
	fmt.Printf("  Assignments: %d\n", len(cfg.Assignments))
	fmt.Println()

	if len(cfg.Roles) > 0 {
		totalPerms, allowCount, denyCount, conditioned := 0, 0, 0, 0
		for _, r := range cfg.Roles {
			totalPerms += len(r.Permissions)
			for _, p := range r.Permissions {
				if p.Effect == rbac.EffectDeny {
					denyCount++
				} else {
					allowCount++
				}
				if len(p.Conditions) > 0 {
					conditioned++
				}
			}
		}
		fmt.Println("Permission Details:")
		fmt.Printf("  Total permissions: %d\n", totalPerms)
		fmt.Printf("  Allow rules:       %d\n", allowCount)
		fmt.Printf("  Deny rules:        %d\n", denyCount)
		fmt.Printf("  Conditional rules: %d\n", conditioned)
		fmt.Printf("  Avg per role:      %.1f\n", float64(totalPerms)/float64(len(cfg.Roles)))
		fmt.Println()
	}

	inherited := 0
	for _, r := range cfg.Roles {
		if r.ParentID != "" {
			inherited++
		}
	}
	if inherited > 0 {
		fmt.Println("Role Hierarchy:")
		for _, r := range cfg.Roles {
			if r.ParentID != "" {
				fmt.Printf("  %s -> %s\n", r.ID, r.ParentID)
			}
		}
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Cache TTL:       %s\n", cfg.Engine.TTL())
	fmt.Printf("  Audit buffer:    %d\n", cfg.Engine.AuditBuffer)
	if cfg.Engine.SuperAdminRole != "" {
		fmt.Printf("  Super admin:     %s\n", cfg.Engine.SuperAdminRole)
	}
}

func handleCheck() {
	if len(os.Args) < 6 {
		fmt.Println("Usage: rbac-config check <file> <principal> <resource> <action>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	store := stores.FromConfig(cfg)
	gate := rbac.NewGate(store, nil, nil, cfg.GateOptions()...)
	defer gate.Close()

	decision, err := gate.Authorize(context.Background(), &rbac.AccessContext{
		Principal: &rbac.Principal{ID: os.Args[3], Status: rbac.StatusActive},
		Resource:  os.Args[4],
		Action:    os.Args[5],
	})
	if err != nil {
		fmt.Printf("Error evaluating access: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Effect:  %s\n", decision.Effect)
	fmt.Printf("Reason:  %s\n", decision.Reason)
	if decision.MatchedBy != "" {
		fmt.Printf("Matched: %s\n", decision.MatchedBy)
	}
	if !decision.Allowed() {
		os.Exit(2)
	}
}

func loadConfig(filename string) (*rbac.Config, error) {
	loader := rbac.NewConfigLoader()
	return loader.LoadFile(filename)
}

func saveConfig(cfg *rbac.Config, filename string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", filepath.Ext(filename))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
