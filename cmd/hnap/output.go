package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"

	"github.com/jmerrifield20/hnap/pkg/hnap"
)

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
)

func printSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "%s %s\n", okMark("✓"), fmt.Sprintf(format, args...))
}

func printFailure(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", failMark("✗"), fmt.Sprintf(format, args...))
}

// printValue renders v as JSON or YAML.
func printValue(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printList(w io.Writer, format, title string, items []string) error {
	if format != "text" {
		return printValue(w, format, items)
	}
	fmt.Fprintln(w, title)
	for _, it := range items {
		fmt.Fprintf(w, "  %s\n", it)
	}
	return nil
}

// printResponse writes the response body. Text output is a two-column
// listing of the body's leaf elements.
func printResponse(w io.Writer, format string, resp *hnap.Response) error {
	if resp != nil && !resp.SOAP {
		return printRaw(w, format, resp)
	}
	if resp == nil || resp.Body == nil {
		return printValue(w, jsonIfText(format), map[string]any{})
	}
	if format != "text" {
		return printValue(w, format, map[string]any{resp.Body.Name: resp.Body.Map()})
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	writeLeaves(tw, "", resp.Body)
	return tw.Flush()
}

// printRaw writes a non-SOAP reply, typically an HTML login or error page.
func printRaw(w io.Writer, format string, resp *hnap.Response) error {
	if format != "text" {
		return printValue(w, format, map[string]any{"soap": false, "raw": string(resp.Raw)})
	}
	fmt.Fprintf(w, "%s: device answered with a non-SOAP document:\n", resp.Action)
	_, err := fmt.Fprintln(w, strings.TrimSpace(string(resp.Raw)))
	return err
}

func jsonIfText(format string) string {
	if format == "text" {
		return "json"
	}
	return format
}

func writeLeaves(w io.Writer, prefix string, e *hnap.Element) {
	if len(e.Children) == 0 {
		fmt.Fprintf(w, "%s\t%s\n", prefix, strings.TrimSpace(e.Text))
		return
	}
	for _, c := range e.Children {
		name := c.Name
		if prefix != "" {
			name = prefix + "." + c.Name
		}
		writeLeaves(w, name, c)
	}
}
