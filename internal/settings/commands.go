package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Command binds a spoken phrase to a shell command template.
type Command struct {
	// Phrase may contain {assistant_name}.
	Phrase string
	// Template may contain {rank}, {name}, {surname}, {assistant_name} and {base_dir}.
	Template string
}

// Commands keeps the order of commands.json. The first matching phrase wins,
// so users put specific phrases ("play music quietly") before general ones.
type Commands []Command

// LoadCommands reads commands.json, preserving key order.
func LoadCommands(path string) (Commands, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cmds, err := ParseCommands(data)
	if err != nil {
		return nil, fmt.Errorf("settings: parse commands %s: %w", path, err)
	}
	return cmds, nil
}

// ParseCommands decodes a JSON object of phrase -> command in document order.
// Non-string values are skipped.
func ParseCommands(data []byte) (Commands, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("commands: top-level value must be an object")
	}

	out := make(Commands, 0)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("commands: unexpected key token %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		var tmpl string
		if err := json.Unmarshal(raw, &tmpl); err != nil {
			continue
		}

		// Later duplicates replace earlier ones but keep the first position,
		// matching how a JSON object is read into a dict.
		replaced := false
		for i := range out {
			if out[i].Phrase == key {
				out[i].Template = tmpl
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, Command{Phrase: key, Template: tmpl})
		}
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// Match returns the first command whose phrase, with {assistant_name}
// substituted by any of names, is contained in text.
func (c Commands) Match(text string, names []string) (Command, bool) {
	for _, cmd := range c {
		for _, name := range names {
			phrase := strings.ReplaceAll(cmd.Phrase, "{assistant_name}", name)
			if strings.Contains(text, phrase) {
				return cmd, true
			}
		}
	}
	return Command{}, false
}

// Render expands the template placeholders. assistantName is inserted as
// given (the voice loop passes it lower-cased); baseDir is double-quoted so
// paths with spaces survive the shell.
func (c Command) Render(s Settings, assistantName, baseDir string) string {
	r := strings.NewReplacer(
		"{rank}", s.Rank(),
		"{name}", s.Name(),
		"{surname}", s.Surname(),
		"{assistant_name}", assistantName,
		"{base_dir}", `"`+baseDir+`"`,
	)
	return r.Replace(c.Template)
}
