package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"dossier-ai/internal/domain"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printOutline(w io.Writer, o domain.Outline) {
	fmt.Fprintf(w, "%s\n\n", o.Title)
	for _, sl := range o.Slides {
		fmt.Fprintf(w, "%2d. [%s] %s\n", sl.Index+1, sl.Type, sl.Title)
		for _, b := range sl.Bullets {
			fmt.Fprintf(w, "      - %s\n", b)
		}
	}
}

func printDrafts(w io.Writer, drafts []domain.Draft) {
	if len(drafts) == 0 {
		fmt.Fprintln(w, "черновиков нет")
		return
	}
	for _, d := range drafts {
		fmt.Fprintf(w, "%s  %s  %-40s  %d слайдов\n", d.ID, d.UpdatedAt.Format("2006-01-02 15:04"), truncate(d.Title, 40), len(d.Outline.Slides))
	}
}

func truncate(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n-1]) + "…"
}
