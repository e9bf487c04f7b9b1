package extract

import (
	"fmt"
	"strings"

	"github.com/chartdesk/chartdesk/internal/chart"
)

const systemPrompt = `You are a data-entry specialist transcribing scanned music trade-magazine chart pages. You read chart tables (e.g. weekly dance/disco surveys) and return their rows as JSON matching the provided schema exactly. Transcribe what is printed: do not invent, reorder, or renumber rows. Use null for any cell that is blank, unreadable, or shows a non-numeric placeholder such as "NEW" or "--". Respond with JSON only.`

// buildPrompt renders the user instruction for a request.
func buildPrompt(req *Request) string {
	if req.Mode == ModeTargeted {
		return buildTargetedPrompt(req)
	}
	return buildFullPrompt(req)
}

func buildFullPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString("Extract every row from every chart table on this page.\n\n")
	b.WriteString("For each row record the chart title exactly as printed (e.g. \"DISCO ACTION TOP 40\"), ")
	b.WriteString("the section or region heading above it if one is printed, the THIS WEEK position, ")
	b.WriteString("the LAST WEEK position, the TWO WEEKS AGO position, WEEKS ON CHART, ")
	b.WriteString("and the song title, artist, and record label.\n\n")
	b.WriteString("Rows must appear in the order they are printed, top to bottom. ")
	b.WriteString("Include every numbered position even when some cells are illegible; use null for those cells.")
	if req.EntryDate != "" {
		fmt.Fprintf(&b, "\n\nThis page is from the chart week of %s.", req.EntryDate)
	}
	return b.String()
}

func buildTargetedPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString("A previous transcription of this page is missing specific positions. ")
	b.WriteString("Find ONLY the rows listed below and return them; do not return rows that are not listed.\n\n")
	b.WriteString("Missing positions:\n")
	for _, g := range req.Missing {
		name := g.ChartTitle
		if g.ChartSection != "" {
			name = g.ChartSection + " / " + name
		}
		fmt.Fprintf(&b, "- %s: positions %s\n", name, chart.FormatRanges(g.MissingRanks))
	}
	b.WriteString("\nMatch chart titles exactly as printed. Use null for cells that are blank or unreadable. ")
	b.WriteString("If a listed position truly does not exist on the page, omit it.")
	if req.EntryDate != "" {
		fmt.Fprintf(&b, "\n\nThis page is from the chart week of %s.", req.EntryDate)
	}
	return b.String()
}
