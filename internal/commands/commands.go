// Package commands parses inbound chat text into relay commands.
package commands

import (
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
	"github.com/nextlevelbuilder/chatrelay/internal/store"
)

// Command is one parsed instruction. The concrete types below are the only
// implementations.
type Command interface {
	command()
}

// Ban adds a user id or username to the ban list. Owner only.
type Ban struct{ ID string }

// Unban removes a user id or username from the ban list. Owner only.
type Unban struct{ ID string }

// UseBackend resets the session and selects a completion backend.
type UseBackend struct{ Selector providers.Selector }

// Debug dumps the session checkpoint.
type Debug struct{}

// ForceIdle clears a stuck working flag.
type ForceIdle struct{}

type Help struct{}

// ListPersonas shows the persona catalogue.
type ListPersonas struct{}

type ReloadPersonas struct{}

// ClearSession re-initializes the session with the default persona.
type ClearSession struct{}

// SetPersona re-initializes the session with a catalogue persona.
type SetPersona struct{ Name string }

// CustomPersona re-initializes the session with a user-defined persona.
// NameNotInPersona is set when the persona text never mentions the name.
type CustomPersona struct {
	Profile          store.CustomProfile
	NameNotInPersona bool
	Quick            bool // from !cp
}

// Usage answers a malformed command with a hint.
type Usage struct {
	Text      string
	ParseMode string
}

// Prompt is a tracked conversation turn. Reset re-initializes the session
// with the default persona first; an empty Text then ends the command.
type Prompt struct {
	Text  string
	Reset bool
}

// Verbatim is a one-shot completion outside the conversation history.
type Verbatim struct {
	Prompt      string
	Stop        string // first occurrence in Prompt is replaced by a blank line
	Temperature float64
	ChunkPrefix string
}

// Text returns the prompt sent to the backend.
func (v Verbatim) Text() string {
	if v.Stop == "" {
		return v.Prompt
	}
	return replaceFirst(v.Prompt, v.Stop, "\n\n")
}

// RawCompletion sends a prompt verbatim to the direct-key provider.
type RawCompletion struct {
	Prompt      string
	Temperature float64
}

// Visualize is recognized but diagram rendering is not supported.
type Visualize struct{}

func (Ban) command()            {}
func (Unban) command()          {}
func (UseBackend) command()     {}
func (Debug) command()          {}
func (ForceIdle) command()      {}
func (Help) command()           {}
func (ListPersonas) command()   {}
func (ReloadPersonas) command() {}
func (ClearSession) command()   {}
func (SetPersona) command()     {}
func (CustomPersona) command()  {}
func (Usage) command()          {}
func (Prompt) command()         {}
func (Verbatim) command()       {}
func (RawCompletion) command()  {}
func (Visualize) command()      {}

// Immediate reports whether c runs even while the session is working.
func Immediate(c Command) bool {
	switch c.(type) {
	case Ban, Unban, UseBackend, Debug, ForceIdle:
		return true
	}
	return false
}

// HelpText lists the supported commands.
const HelpText = `!ctp   - list available personas
!ctp <persona>   - set the bot's persona to the specified one
!ctpc "name" "name_other" <persona_description> - set a custom persona with the given name, alternative name, and description
!cp <name> - set a custom persona with the given name and default alternative name and description
!r  - reload available personas
!cs  - clear the current session/context
!cr  - clear the current session/context and reset to the default persona (g)
!c  - in groups: send a message to the bot. In private: not needed, the bot treats all messages as prompts
!gpt4 - reset the session and use the default backend
!claude - reset the session and use the Claude backend
!debug - dump the current session/context for debugging
!wo  - set "is_working" to false
!help - show the help/command list message
!vr <temperature> <text> - generate a verbatim response to the replied to message using the given temperature and input text
!v <temperature> <text> - generate a verbatim response using the given temperature and input text
!vs <temperature> <stop_sequence> <text> - generate a verbatim response using the given temperature and input text, stopping when the stop_sequence is generated
!vc <text> - send the text to Claude exactly as written
!exp - explain the meaning/significance of the replied to message
!explain <text> - explain the meaning/significance of the given text
!sbs  - outline the steps of the replied to message
!stepbystep <text> - outline the steps of the given text
!mean  - explain the meaning of the replied to message
!meaning <text> - explain the meaning of the given text
!sum  - summarize the replied to message
!summarize <text> - summarize the given text
!expand  - elaborate on the replied to message
!ela <text>  - elaborate on the given text
!elaborate <text> - elaborate on the given text
!joke [topic]   - tell a joke, optionally about the given topic
!cr <text>  - clear the session/context and reset to default persona (g), then respond to the given prompt
!c <text> - respond to the given prompt (groups only, private messages are treated as prompts automatically)`
