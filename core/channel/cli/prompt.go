package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/artpar/kalita/core/schema"
	"golang.org/x/term"
)

// Prompter reads field values interactively.
type Prompter struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewPrompter creates a prompter over in and out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// IsTerminal reports whether stdin is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// PromptForFields asks for every required, writable field that is missing
// from existing and has no default. Entered text is converted by field type.
func (p *Prompter) PromptForFields(ent *schema.Entity, existing map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(existing))
	for k, v := range existing {
		result[k] = v
	}

	for _, f := range ent.Fields {
		if _, ok := result[f.Name]; ok {
			continue
		}
		if !f.Required || f.ReadOnly || f.Default != nil {
			continue
		}

		label := formatPromptLabel(f.Name)
		if len(f.Values) > 0 {
			label += fmt.Sprintf(" [%s]", strings.Join(f.Values, "/"))
		} else if f.Catalog != "" {
			label += fmt.Sprintf(" (catalog %s)", f.Catalog)
		}
		label += " (required): "

		value, err := p.Prompt(label)
		if err != nil {
			return nil, err
		}
		if value == "" {
			return nil, fmt.Errorf("field %q is required", f.Name)
		}
		v, err := ConvertInput(value, f)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		result[f.Name] = v
	}

	return result, nil
}

// Prompt displays a prompt and reads a line of input.
func (p *Prompter) Prompt(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm prompts for yes/no confirmation.
func (p *Prompter) Confirm(prompt string) (bool, error) {
	response, err := p.Prompt(prompt + " [y/N]: ")
	if err != nil {
		return false, err
	}
	response = strings.ToLower(response)
	return response == "y" || response == "yes", nil
}

// formatPromptLabel converts snake_case to Title Case.
func formatPromptLabel(name string) string {
	words := strings.Split(name, "_")
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}
