package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/domain/trade"
)

var (
	headerColor = color.New(color.Bold)
	longColor   = color.New(color.FgGreen)
	shortColor  = color.New(color.FgRed)
	warnColor   = color.New(color.FgYellow)
)

func printBatch(w io.Writer, batch market.Batch) {
	headerColor.Fprintf(w, "Predictions generated %s\n", batch.GeneratedAt.UTC().Format(time.RFC3339))
	printSide(w, "LONG", longColor, batch.Long)
	printSide(w, "SHORT", shortColor, batch.Short)
}

func printSide(w io.Writer, title string, c *color.Color, signals []market.Signal) {
	c.Fprintf(w, "%s (%d)\n", title, len(signals))
	if len(signals) == 0 {
		fmt.Fprintln(w, "  -")
		return
	}
	for _, s := range signals {
		fmt.Fprintf(w, "  %2d. %-10s %s\n", s.Rank, s.Symbol, c.Sprintf("%.4f", s.Score))
	}
}

func colorResult(r trade.Result) string {
	switch r {
	case trade.Win:
		return longColor.Sprint(r.String())
	case trade.Loss:
		return shortColor.Sprint(r.String())
	default:
		return warnColor.Sprint(r.String())
	}
}
