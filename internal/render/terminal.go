// Package render presents scan runs in a terminal.
package render

import (
	"fmt"
	"io"
	"sync"

	"github.com/pterm/pterm"

	"github.com/zombor/vegan-scanner/internal/classify"
	"github.com/zombor/vegan-scanner/internal/scan"
)

var phaseText = map[scan.Phase]string{
	scan.PhaseCapturing:   "Tar bild...",
	scan.PhaseExtracting:  "Läser text...",
	scan.PhaseClassifying: "Analyserar ingredienser...",
}

// Terminal implements scan.Presenter with pterm spinners, banners and lists
type Terminal struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool
	spinner     *pterm.SpinnerPrinter
}

// NewTerminal creates a Terminal writing to out. A non-interactive terminal
// prints one line per phase instead of animating a spinner.
func NewTerminal(out io.Writer, interactive bool) *Terminal {
	return &Terminal{out: out, interactive: interactive}
}

// ShowPhase shows progress for the running phases and clears it otherwise
func (t *Terminal) ShowPhase(p scan.Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()

	text, ok := phaseText[p]
	if !ok {
		t.stopSpinner()
		return
	}

	if !t.interactive {
		fmt.Fprintln(t.out, pterm.Info.Sprint(text))
		return
	}
	if t.spinner != nil {
		t.spinner.UpdateText(text)
		return
	}
	spinner, err := pterm.DefaultSpinner.
		WithWriter(t.out).
		WithStyle(pterm.NewStyle(pterm.FgCyan)).
		WithRemoveWhenDone(true).
		Start(text)
	if err != nil {
		fmt.Fprintln(t.out, pterm.Info.Sprint(text))
		return
	}
	t.spinner = spinner
}

func (t *Terminal) stopSpinner() {
	if t.spinner == nil {
		return
	}
	_ = t.spinner.Stop()
	t.spinner = nil
}

// ShowVerdict prints the banner, the ingredient list and the explanation
func (t *Terminal) ShowVerdict(v classify.Verdict) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopSpinner()

	header := pterm.DefaultHeader.WithTextStyle(pterm.NewStyle(pterm.FgBlack))
	if v.IsVegan {
		header = header.WithBackgroundStyle(pterm.NewStyle(pterm.BgGreen))
		fmt.Fprintln(t.out, header.Sprint("Vegansk"))
	} else {
		header = header.WithBackgroundStyle(pterm.NewStyle(pterm.BgRed))
		fmt.Fprintln(t.out, header.Sprint("Inte vegansk"))
	}
	fmt.Fprintln(t.out)

	if len(v.Ingredients) == 0 {
		fmt.Fprintln(t.out, pterm.Gray("Inga ingredienser hittades."))
	} else {
		items := make([]pterm.BulletListItem, 0, len(v.Ingredients))
		for _, ingredient := range v.Ingredients {
			items = append(items, pterm.BulletListItem{Level: 0, Text: ingredient})
		}
		list, err := pterm.DefaultBulletList.WithItems(items).Srender()
		if err != nil {
			for _, ingredient := range v.Ingredients {
				fmt.Fprintf(t.out, "- %s\n", ingredient)
			}
		} else {
			fmt.Fprint(t.out, list)
		}
	}

	if v.HasExplanation() {
		fmt.Fprintln(t.out)
		fmt.Fprintln(t.out, pterm.DefaultParagraph.Sprint(*v.Explanation))
	}
}

// ShowError prints the user-facing failure message in a box
func (t *Terminal) ShowError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopSpinner()

	box := pterm.DefaultBox.
		WithTitle(pterm.Red("Fel")).
		WithBoxStyle(pterm.NewStyle(pterm.FgRed))
	fmt.Fprintln(t.out, box.Sprint(message))
}
