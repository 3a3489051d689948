package commands

import "regexp"

// template is a verbatim command that wraps either the replied-to message or
// its own argument in a fixed prompt.
type template struct {
	re          *regexp.Regexp
	reply       func(quoted, arg string) string
	direct      func(arg string) string
	chunkPrefix string
}

func quote(quoted, instruction string) string {
	return "----Message:----\n" + quoted + "\n----" + instruction + ":----\n"
}

// paren appends " (arg)" to s when arg is set.
func paren(s, arg string) string {
	if arg == "" {
		return s
	}
	return s + " (" + arg + ")"
}

// spaced appends " arg" to s when arg is set.
func spaced(s, arg string) string {
	if arg == "" {
		return s
	}
	return s + " " + arg
}

var templates = []template{
	{
		re: regexp.MustCompile(`(?i)^(!exp|!explain)(\s[\s\S]+)?$`),
		reply: func(q, arg string) string {
			return quote(q, spaced("Explain", arg))
		},
		direct: func(arg string) string { return "Explain " + arg + ":----\n" },
	},
	{
		re: regexp.MustCompile(`(?i)^(!sbs|!stepbystep)(\s[\s\S]+)?$`),
		reply: func(q, arg string) string {
			return quote(q, paren("Outline the message step by step", arg)) + "1."
		},
		direct:      func(arg string) string { return "Outline step by step in the form of a list: " + arg + "----\n1." },
		chunkPrefix: "1. ",
	},
	{
		re: regexp.MustCompile(`(?i)^(!mean|!meaning)(\s[\s\S]+)?$`),
		reply: func(q, arg string) string {
			return quote(q, paren("Meaning of the message", arg))
		},
		direct: func(arg string) string { return "Explain the meaning of " + arg + ":----\n" },
	},
	{
		re: regexp.MustCompile(`(?i)^(!sum|!summarize)(\s[\s\S]+)?$`),
		reply: func(q, arg string) string {
			return quote(q, paren("Summarize the message", arg))
		},
		direct: func(arg string) string { return "Write a summary of: " + arg + "----\n" },
	},
	{
		re: regexp.MustCompile(`(?i)^(!expand|!ela|!elaborate)(\s[\s\S]+)?$`),
		reply: func(q, arg string) string {
			if arg != "" {
				arg = "on " + arg
			}
			return quote(q, spaced("Elaborate further", arg))
		},
		direct: func(arg string) string { return "Elaborate on: " + arg + "----\n" },
	},
}
