package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

type VisualTable struct {
	Header  []string
	Data    [][]string
	NoColor bool
	out     io.Writer
}

func NewVisualTable(header []string, data [][]string, noColor bool) *VisualTable {
	return &VisualTable{
		Header:  header,
		Data:    data,
		NoColor: noColor,
		out:     os.Stdout,
	}
}

func (v *VisualTable) Generate() {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader(v.Header)
	table.AppendBulk(v.Data)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.Render()

	out := sb.String()
	if v.NoColor {
		out = stripansi.Strip(out)
	}
	fmt.Fprint(v.out, out)
}

var (
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow, color.Bold).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	blue   = color.New(color.FgBlue, color.Bold).SprintFunc()
)

// colorState paints a phase or state name by how it ended.
func colorState(state string) string {
	switch state {
	case "Completed", "Released", "active", "available":
		return green(state)
	case "Failed", "Cancelled", "Refunded", "deregistered":
		return red(state)
	case "Disputed", "Split", "busy", "disabled":
		return yellow(state)
	default:
		return blue(state)
	}
}

func shorten(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "..." + s[len(s)-5:]
}
