// internal/logging/console.go
package logging

import (
	"fmt"
	"io"
	"sync"
	"time"

	"themesync/internal/pipeline"
	"themesync/internal/rate"

	"github.com/fatih/color"
)

// Console prints human-readable progress lines for a sync session.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	gray    func(a ...interface{}) string
	green   func(a ...interface{}) string
	red     func(a ...interface{}) string
	magenta func(a ...interface{}) string
}

func NewConsole(out io.Writer) *Console {
	return &Console{
		out:     out,
		gray:    color.New(color.FgHiBlack).SprintFunc(),
		green:   color.New(color.FgGreen).SprintFunc(),
		red:     color.New(color.FgRed).SprintFunc(),
		magenta: color.New(color.FgMagenta).SprintFunc(),
	}
}

func (c *Console) println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] %s\n", time.Now().Format("15:04:05"), line)
}

// Connection announces the target shop and theme.
func (c *Console) Connection(host, themeID, themeName, preview string) {
	c.println(c.gray("Connected to: ") + c.magenta(host) +
		c.gray(" theme id: ") + c.magenta(themeID) +
		c.gray(" theme name: ") + c.magenta(themeName))
	c.println(c.gray("Browser to: ") + c.magenta(preview))
}

func (c *Console) ItemStarted(ev pipeline.Event, key string, op rate.Op, delay time.Duration) {
	if op == rate.OpDelete {
		c.println(c.red("Delete Start:  " + key))
		return
	}
	c.println(c.gray("Upload Start:  " + key))
}

func (c *Console) ItemFinished(res pipeline.Result, snap pipeline.Snapshot) {
	verb := "Upload"
	if res.Op == rate.OpDelete {
		verb = "Delete"
	}

	switch res.Outcome {
	case pipeline.OutcomeSucceeded:
		c.println(c.green(verb + " Finish: " + res.Key))
	case pipeline.OutcomeFailed:
		c.println(c.red(res.Err.Error()))
		c.println(c.red(verb + " Error:  " + res.Key))
	case pipeline.OutcomeSkipped:
		if res.Err != nil {
			c.println(c.red(res.Err.Error()))
		}
	}

	c.println(c.CountLine(snap))
}

// CountLine renders the per-kind counters.
func (c *Console) CountLine(snap pipeline.Snapshot) string {
	return c.gray("Stream count: ") + c.magenta(snap.Attempted[pipeline.KindUnsupported]) +
		c.gray(" Buffer count: ") + c.magenta(snap.Attempted[pipeline.KindContent]) +
		c.gray(" Empty count: ") + c.magenta(snap.Attempted[pipeline.KindDeletion])
}

// Summary prints the totals and every failed path once the session is over.
func (c *Console) Summary(snap pipeline.Snapshot) {
	uploaded := snap.Succeeded[pipeline.KindContent]
	deleted := snap.Succeeded[pipeline.KindDeletion]
	c.println(c.gray("Uploaded: ") + c.green(uploaded) +
		c.gray(" Deleted: ") + c.green(deleted) +
		c.gray(" Skipped: ") + c.magenta(snap.Skipped) +
		c.gray(" Errors: ") + c.red(snap.ErrorCount()))

	for _, k := range pipeline.Kinds {
		for _, e := range snap.Errors[k] {
			c.println(c.red(fmt.Sprintf("  %s %s: %s", k, e.Key, e.Message)))
		}
	}
}
