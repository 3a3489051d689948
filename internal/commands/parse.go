package commands

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/channels"
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
	"github.com/nextlevelbuilder/chatrelay/internal/store"
)

// verbatimStop separates the sections of verbatim templates.
const verbatimStop = "----"

const (
	usageCustom = "Invalid command, missing a quote? Try `!ctpc \"Your name\" \"Their name\" <persona description>`"
	usageQuick  = "Invalid command? Try `!cp Albert Einstein`"
)

var (
	reBan      = regexp.MustCompile(`^!ban (\w+)`)
	reUnban    = regexp.MustCompile(`^!unban (\w+)`)
	reSetProf  = regexp.MustCompile(`^!ctp ([a-zA-Z0-9\-]{1,15})$`)
	reCustom   = regexp.MustCompile(`(?i)^!ctpc "([^"]{1,50})" "([^"]{1,50})" (.*)$`)
	reQuick    = regexp.MustCompile(`(?i)^!cp (.*)$`)
	reVReply   = regexp.MustCompile(`(?i)^!vr\s(\d+\.\d\d?)?\s?([\s\S]+)$`)
	reVerbatim = regexp.MustCompile(`(?i)^!v\s(\d+\.\d\d?)?\s?([\s\S]+)$`)
	reVClaude  = regexp.MustCompile(`(?i)^!vc\s(\d+\.\d\d?)?\s?([\s\S]+)$`)
	reVStop    = regexp.MustCompile(`(?i)^!vs\s(\d+\.\d\d?)\s(\S+)?\s([\s\S]+)$`)
	reVisual   = regexp.MustCompile(`(?i)^(!vis|!visualize)(\s[\s\S]+)?$`)
	reJoke     = regexp.MustCompile(`(?i)^!joke(?:\s+([\s\S]+))?$`)
	reReset    = regexp.MustCompile(`^!cr(?:\s+([\s\S]*))?$`)
	reChat     = regexp.MustCompile(`^!c\s+([\s\S]+)$`)
)

// Parse maps one inbound message to a command. It returns nil when the
// message is not addressed to the relay. owner enables the ban commands.
func Parse(msg bus.InboundMessage, owner bool) Command {
	text := msg.Text

	if owner {
		if m := reBan.FindStringSubmatch(text); m != nil {
			return Ban{ID: m[1]}
		}
		if m := reUnban.FindStringSubmatch(text); m != nil {
			return Unban{ID: m[1]}
		}
	}

	switch text {
	case "!gpt4":
		return UseBackend{Selector: providers.SelectorDefault}
	case "!claude":
		return UseBackend{Selector: providers.SelectorClaude}
	case "!debug":
		return Debug{}
	case "!wo":
		return ForceIdle{}
	case "!help":
		return Help{}
	case "!ctp":
		return ListPersonas{}
	case "!r":
		return ReloadPersonas{}
	case "!cs":
		return ClearSession{}
	}

	if m := reSetProf.FindStringSubmatch(text); m != nil {
		return SetPersona{Name: m[1]}
	}

	if m := reCustom.FindStringSubmatch(text); m != nil && m[3] != "" {
		return CustomPersona{
			Profile:          store.CustomProfile{Name: m[1], NameOther: m[2], Persona: m[3]},
			NameNotInPersona: !strings.Contains(strings.ToLower(m[3]), strings.ToLower(m[1])),
		}
	}
	if strings.HasPrefix(text, "!ctpc") {
		return Usage{Text: usageCustom, ParseMode: channels.ParseModeMarkdownV2}
	}

	if m := reQuick.FindStringSubmatch(text); m != nil && m[1] != "" {
		return CustomPersona{
			Profile: store.CustomProfile{Name: m[1], NameOther: "User", Persona: fmt.Sprintf("You are %s.", m[1])},
			Quick:   true,
		}
	}
	if strings.HasPrefix(text, "!cp") {
		return Usage{Text: usageQuick, ParseMode: channels.ParseModeMarkdownV2}
	}

	if c := parseVerbatim(msg); c != nil {
		return c
	}

	if m := reVisual.FindStringSubmatch(text); m != nil && (msg.HasReply || m[2] != "") {
		return Visualize{}
	}

	if m := reJoke.FindStringSubmatch(text); m != nil {
		if topic := strings.TrimSpace(m[1]); topic != "" {
			return Prompt{Text: "Tell me a joke about " + topic}
		}
		return Prompt{Text: "Tell me a joke"}
	}

	if m := reReset.FindStringSubmatch(text); m != nil {
		return Prompt{Text: strings.TrimSpace(m[1]), Reset: true}
	}
	if m := reChat.FindStringSubmatch(text); m != nil {
		return Prompt{Text: m[1]}
	}
	if msg.IsPrivate() && strings.TrimSpace(text) != "" {
		return Prompt{Text: text}
	}
	return nil
}

func parseVerbatim(msg bus.InboundMessage) Command {
	text := msg.Text

	if m := reVReply.FindStringSubmatch(text); m != nil && msg.HasReply && m[2] != "" {
		return Verbatim{
			Prompt:      verbatimStop + "Message:" + verbatimStop + msg.ReplyText + verbatimStop + m[2] + verbatimStop,
			Stop:        verbatimStop,
			Temperature: parseTemperature(m[1]),
		}
	}
	if m := reVerbatim.FindStringSubmatch(text); m != nil && m[2] != "" {
		return Verbatim{
			Prompt:      m[2] + verbatimStop,
			Stop:        verbatimStop,
			Temperature: parseTemperature(m[1]),
		}
	}
	if m := reVClaude.FindStringSubmatch(text); m != nil && m[2] != "" {
		return RawCompletion{Prompt: m[2], Temperature: parseTemperature(m[1])}
	}
	if m := reVStop.FindStringSubmatch(text); m != nil && m[1] != "" && m[2] != "" && m[3] != "" {
		return Verbatim{
			Prompt:      m[3],
			Stop:        m[2],
			Temperature: parseTemperature(m[1]),
		}
	}

	for _, t := range templates {
		m := t.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		arg := strings.TrimSpace(m[2])
		var prompt string
		switch {
		case msg.HasReply:
			prompt = t.reply(msg.ReplyText, arg)
		case arg != "":
			prompt = t.direct(arg)
		default:
			return nil
		}
		return Verbatim{
			Prompt:      prompt,
			Stop:        verbatimStop,
			Temperature: providers.VerbatimTemperature,
			ChunkPrefix: t.chunkPrefix,
		}
	}
	return nil
}

// parseTemperature reads an optional sampling temperature; missing or zero
// falls back to the verbatim default.
func parseTemperature(s string) float64 {
	if s == "" {
		return providers.VerbatimTemperature
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v == 0 {
		return providers.VerbatimTemperature
	}
	return v
}

func replaceFirst(s, old, repl string) string {
	return strings.Replace(s, old, repl, 1)
}
