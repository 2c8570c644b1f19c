// internal/theme/theme.go
package theme

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"themesync/client"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// ErrNoThemes is returned when the shop lists no themes at all.
var ErrNoThemes = stderrors.New("can not get any themes")

// Descriptor identifies the theme a session writes to.
type Descriptor struct {
	ID   string
	Name string
	Role string
}

// Choice is one entry of the selection list.
type Choice struct {
	Label string
	Short string
	Value Descriptor
}

type Lister interface {
	ListThemes(ctx context.Context) ([]client.Theme, error)
}

// Chooser picks one of the offered choices.
type Chooser interface {
	Choose(message string, choices []Choice) (Choice, error)
}

type Resolver struct {
	lister  Lister
	chooser Chooser
	logger  *zap.Logger
}

func NewResolver(lister Lister, chooser Chooser, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{lister: lister, chooser: chooser, logger: logger}
}

// Resolve returns the configured theme when the shop has it, otherwise asks the chooser.
func (r *Resolver) Resolve(ctx context.Context, configuredID string) (Descriptor, error) {
	themes, err := r.lister.ListThemes(ctx)
	if err != nil {
		return Descriptor{}, fmt.Errorf("listing themes: %w", err)
	}
	if len(themes) == 0 {
		return Descriptor{}, ErrNoThemes
	}

	for _, t := range themes {
		if configuredID != "" && t.IDString() == configuredID {
			r.logger.Debug("using configured theme", zap.String("theme_id", configuredID))
			return describe(t), nil
		}
	}

	if r.chooser == nil {
		return Descriptor{}, fmt.Errorf("theme %q not found and no chooser available", configuredID)
	}

	choice, err := r.chooser.Choose("Which theme would you like to use?", BuildChoices(themes))
	if err != nil {
		return Descriptor{}, fmt.Errorf("choosing theme: %w", err)
	}
	return choice.Value, nil
}

// BuildChoices formats themes as "<id> - <name> (<role>)", ordered by id.
func BuildChoices(themes []client.Theme) []Choice {
	sorted := append([]client.Theme(nil), themes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	choices := make([]Choice, 0, len(sorted))
	for _, t := range sorted {
		label := t.IDString() + " - " + t.Name
		if t.Role != "" {
			label += " (" + t.Role + ")"
		}
		choices = append(choices, Choice{Label: label, Short: t.Name, Value: describe(t)})
	}
	return choices
}

func describe(t client.Theme) Descriptor {
	return Descriptor{ID: t.IDString(), Name: t.Name, Role: t.Role}
}

// PromptChooser asks on out and reads a 1-based number from in.
type PromptChooser struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPromptChooser(in io.Reader, out io.Writer) *PromptChooser {
	return &PromptChooser{in: bufio.NewReader(in), out: out}
}

func (p *PromptChooser) Choose(message string, choices []Choice) (Choice, error) {
	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintln(p.out, bold("? "+message))
	for i, c := range choices {
		fmt.Fprintf(p.out, "  %s %s\n", cyan(strconv.Itoa(i+1)+")"), c.Label)
	}

	for {
		fmt.Fprintf(p.out, "Answer [1-%d]: ", len(choices))
		line, err := p.in.ReadString('\n')
		line = strings.TrimSpace(line)

		if n, convErr := strconv.Atoi(line); convErr == nil && n >= 1 && n <= len(choices) {
			return choices[n-1], nil
		}
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return Choice{}, fmt.Errorf("no theme selected")
			}
			return Choice{}, err
		}
		fmt.Fprintln(p.out, color.RedString("Please enter a number between 1 and %d", len(choices)))
	}
}
