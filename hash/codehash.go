package hash

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"

	"github.com/opencontainers/go-digest"
)

// CodeHash computes a structural digest of a Go step source file. It
// parses the file, discards position and comment information, and walks
// the resulting AST writing each node's type name and any literal,
// identifier or operator token it carries; the resulting byte stream is
// hashed with DigestBytes. Changing whitespace or reflowing comments does
// not change the hash; renaming an identifier, changing a literal or
// changing an operator does.
//
// This normalization is specific to Go source and is frozen for this
// rewrite: it is not compatible with digests produced by an AST dump in
// any other host language.
func CodeHash(path string) (digest.Digest, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return "", fmt.Errorf("hash: parse step source: %w", err)
	}

	var buf bytes.Buffer
	ast.Inspect(file, func(n ast.Node) bool {
		if n == nil {
			return false
		}
		writeNodeSignature(&buf, n)
		return true
	})

	return DigestBytes(buf.Bytes()), nil
}

func writeNodeSignature(buf *bytes.Buffer, n ast.Node) {
	fmt.Fprintf(buf, "%T(", n)
	switch v := n.(type) {
	case *ast.Ident:
		buf.WriteString(v.Name)
	case *ast.BasicLit:
		buf.WriteString(v.Kind.String())
		buf.WriteByte(':')
		buf.WriteString(v.Value)
	case *ast.SelectorExpr:
		buf.WriteString(v.Sel.Name)
	case *ast.BinaryExpr:
		buf.WriteString(v.Op.String())
	case *ast.UnaryExpr:
		buf.WriteString(v.Op.String())
	case *ast.AssignStmt:
		buf.WriteString(v.Tok.String())
	case *ast.IncDecStmt:
		buf.WriteString(v.Tok.String())
	}
	buf.WriteString(");")
}
