package shared

import (
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"
)

var logMethods = map[string]bool{"Debug": true, "Info": true, "Warn": true, "Error": true}

// Log messages start with a capital letter ("Failed to ...") across every
// package. Mixed-case identifiers such as gRPC are left as written.
func TestLogMessagesAreCapitalized(t *testing.T) {
	roots := []string{"..", filepath.Join("..", "..", "cmd")}
	fset := token.NewFileSet()
	checked := 0
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			file, err := parser.ParseFile(fset, path, nil, 0)
			if err != nil {
				return err
			}
			ast.Inspect(file, func(n ast.Node) bool {
				call, ok := n.(*ast.CallExpr)
				if !ok || len(call.Args) == 0 {
					return true
				}
				sel, ok := call.Fun.(*ast.SelectorExpr)
				if !ok || !logMethods[sel.Sel.Name] || !isLogger(sel.X) {
					return true
				}
				lit, ok := call.Args[0].(*ast.BasicLit)
				if !ok || lit.Kind != token.STRING {
					return true
				}
				msg, err := strconv.Unquote(lit.Value)
				if err != nil || msg == "" {
					return true
				}
				checked++
				first, _ := utf8.DecodeRuneInString(msg)
				word, _, _ := strings.Cut(msg, " ")
				if unicode.IsLower(first) && strings.ToLower(word) == word {
					t.Errorf("%s: log message %q should start with a capital letter", fset.Position(lit.Pos()), msg)
				}
				return true
			})
			return nil
		})
		if err != nil {
			t.Fatalf("walk %s: %v", root, err)
		}
	}
	if checked == 0 {
		t.Fatal("no log calls found")
	}
}

func isLogger(x ast.Expr) bool {
	switch v := x.(type) {
	case *ast.Ident:
		return v.Name == "slog" || v.Name == "logger"
	case *ast.SelectorExpr:
		return v.Sel.Name == "logger"
	}
	return false
}
