// Package main implements a layering linter for the gateway packages.
//
// It scans non-test Go files under pkg/ and reports imports that cross a
// layer boundary: the store and policy engine stay independent of each
// other and of everything above them, and executors never reach the store.
//
// Usage:
//
//	go run ./tools/layercheck [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "github.com/madaxer/devopsAgent/pkg/"

// forbidden maps a package under pkg/ to the sibling packages it must not import.
var forbidden = map[string][]string{
	"contracts":     {"store", "policy", "coordinator", "executor", "audit", "api", "client", "config", "limiter", "observability"},
	"store":         {"policy", "coordinator", "executor", "audit", "api", "client", "config"},
	"policy":        {"store", "coordinator", "executor", "audit", "api", "client", "config"},
	"executor":      {"store", "coordinator", "policy", "audit", "api", "client"},
	"audit":         {"store", "coordinator", "policy", "executor", "api", "client"},
	"limiter":       {"store", "coordinator", "policy", "executor", "audit", "api", "client"},
	"observability": {"store", "coordinator", "policy", "executor", "audit", "api", "client"},
	"coordinator":   {"api", "client", "config", "executor", "audit"},
}

// Violation is one forbidden import.
type Violation struct {
	File   string
	Line   int
	Import string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d imports %q", v.File, v.Line, v.Import)
}

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()
	os.Exit(run(*root, os.Stdout, os.Stderr))
}

func run(root string, stdout, stderr io.Writer) int {
	violations, err := check(root)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "LAYER VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		_, _ = fmt.Fprintf(stdout, "\n%d layer violation(s) found\n", len(violations))
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "layer check passed")
	return 0
}

func check(root string) ([]Violation, error) {
	pkgDir := filepath.Join(root, "pkg")
	if _, err := os.Stat(pkgDir); err != nil {
		return nil, fmt.Errorf("%s: %w", pkgDir, err)
	}

	var violations []Violation
	fset := token.NewFileSet()
	err := filepath.WalkDir(pkgDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "testdata" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		rel, _ := filepath.Rel(pkgDir, path)
		owner := strings.Split(filepath.ToSlash(rel), "/")[0]
		banned := forbidden[owner]
		if len(banned) == 0 {
			return nil
		}

		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, imp := range f.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			target, ok := strings.CutPrefix(importPath, modulePath)
			if !ok {
				continue
			}
			target = strings.Split(target, "/")[0]
			for _, b := range banned {
				if target == b {
					pos := fset.Position(imp.Pos())
					relFile, _ := filepath.Rel(root, pos.Filename)
					violations = append(violations, Violation{File: filepath.ToSlash(relFile), Line: pos.Line, Import: importPath})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(violations, func(i, j int) bool { return violations[i].File < violations[j].File })
	return violations, nil
}
