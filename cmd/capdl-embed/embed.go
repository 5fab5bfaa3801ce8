package main

import (
	"bytes"
	"fmt"
	"go/format"
	"go/token"
	"text/template"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/wire"
)

type embedParams struct {
	Package   string
	Var       string
	File      string
	Arch      string
	Objects   int
	SidecarAt uint64
	Size      int
}

var sourceTemplate = template.Must(template.New("embed").Parse(`// Code generated by capdl-embed. DO NOT EDIT.

package {{.Package}}

import _ "embed"

// {{.Var}} is a packaged {{.Arch}} system of {{.Objects}} objects.
//
//go:embed {{.File}}
var {{.Var}} []byte

const (
	{{.Var}}Size          = {{.Size}}
	{{.Var}}SidecarOffset = {{.SidecarAt}}
)
`))

// render checks blob and produces the Go source embedding file.
func render(blob []byte, pkg, name, file string) ([]byte, error) {
	if !token.IsIdentifier(pkg) || !token.IsIdentifier(name) {
		return nil, fmt.Errorf("package %q and var %q must be Go identifiers", pkg, name)
	}
	v, err := wire.Open(blob)
	if err != nil {
		return nil, err
	}
	a, err := arch.ByID(v.Header().Arch)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err = sourceTemplate.Execute(&buf, embedParams{
		Package:   pkg,
		Var:       name,
		File:      file,
		Arch:      a.Name,
		Objects:   v.NumObjects(),
		SidecarAt: v.SidecarOffset(),
		Size:      len(blob),
	})
	if err != nil {
		return nil, err
	}
	return format.Source(buf.Bytes())
}
