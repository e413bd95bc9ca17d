package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nugget/charmbot/internal/llm"
	"github.com/nugget/charmbot/internal/prompts"
	"github.com/nugget/charmbot/internal/tools"
)

// ActionKind distinguishes tool calls from replies.
type ActionKind int

const (
	ActionInvoke ActionKind = iota
	ActionRespond
)

// Action is the single step the model chose.
type Action struct {
	Kind    ActionKind
	Thought string

	// Invoke
	Tool string
	Args tools.Args

	// Respond
	Reply string
}

// Canonical renders the action as the compact JSON block recorded in
// the scratchpad. Argument keys are sorted.
func (a *Action) Canonical() string {
	var input any
	if a.Kind == ActionRespond {
		input = a.Reply
	} else {
		input = map[string]string(a.Args)
	}
	b, _ := json.Marshal(struct {
		Action      string `json:"action"`
		ActionInput any    `json:"action_input"`
	}{Action: a.name(), ActionInput: input})
	return string(b)
}

func (a *Action) name() string {
	if a.Kind == ActionRespond {
		return prompts.FinalAnswer
	}
	return a.Tool
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\n?(.*?)```")

// ParseAction extracts exactly one action from raw model output. The
// text is first cut at the earliest stop sequence. The action may be a
// fenced block (``` or ```json) or a bare JSON object.
func ParseAction(raw string, stop []string, reg *tools.Registry) (*Action, error) {
	text := llm.TruncateAtStop(raw, stop)

	block, before, fenced, err := findBlock(text)
	if err != nil {
		return nil, err
	}

	var env struct {
		Action      *string         `json:"action"`
		ActionInput json.RawMessage `json:"action_input"`
	}
	dec := json.NewDecoder(strings.NewReader(block))
	if err := dec.Decode(&env); err != nil {
		return nil, &ParseError{Reason: "action block is not valid JSON: " + err.Error(), Err: err}
	}
	rest := strings.TrimSpace(block[dec.InputOffset():])
	if (fenced && rest != "") || strings.Contains(rest, `"action"`) {
		return nil, &ParseError{Reason: "found more than one action block"}
	}
	if env.Action == nil || *env.Action == "" {
		return nil, &ParseError{Reason: `action block is missing "action"`}
	}

	thought := extractThought(before)
	name := strings.TrimSpace(*env.Action)

	if name == prompts.FinalAnswer {
		var reply string
		if err := json.Unmarshal(env.ActionInput, &reply); err != nil {
			return nil, &ParseError{Reason: `"Final Answer" action_input must be a string`}
		}
		if strings.TrimSpace(reply) == "" {
			return nil, &ParseError{Reason: `"Final Answer" action_input is empty`}
		}
		return &Action{Kind: ActionRespond, Thought: thought, Reply: strings.TrimSpace(reply)}, nil
	}

	tool, err := reg.Resolve(name)
	if err != nil {
		return nil, &ParseError{
			Reason: fmt.Sprintf("unknown action %q, valid actions are %q or one of %s",
				name, prompts.FinalAnswer, strings.Join(reg.Names(), ", ")),
			Err: err,
		}
	}

	input, err := coerceInput(tool, env.ActionInput)
	if err != nil {
		return nil, err
	}
	args, err := reg.Validate(name, input)
	if err != nil {
		var in *tools.ToolInputError
		if errors.As(err, &in) {
			return nil, &ParseError{Reason: fmt.Sprintf("bad action_input for %s: %s", name, in.Reason()), Err: err}
		}
		return nil, &ParseError{Reason: err.Error(), Err: err}
	}
	return &Action{Kind: ActionInvoke, Thought: thought, Tool: name, Args: args}, nil
}

// findBlock returns the JSON text of the single action block, the text
// that precedes it, and whether it was fenced. A bare block runs to the
// end of text. An action object outside a fenced block counts as a
// second block.
func findBlock(text string) (block, before string, fenced bool, err error) {
	matches := fencedBlock.FindAllStringSubmatchIndex(text, -1)
	switch {
	case len(matches) > 1:
		return "", "", true, &ParseError{Reason: "found more than one action block"}
	case len(matches) == 1:
		m := matches[0]
		if strings.Contains(text[:m[0]], `"action"`) || strings.Contains(text[m[1]:], `"action"`) {
			return "", "", true, &ParseError{Reason: "found more than one action block"}
		}
		return strings.TrimSpace(text[m[2]:m[3]]), text[:m[0]], true, nil
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", "", false, &ParseError{Reason: "no action block found"}
	}
	before = strings.TrimSuffix(strings.TrimSpace(text[:start]), "```json")
	before = strings.TrimSuffix(before, "```")
	return text[start:], before, false, nil
}

// extractThought returns the model's reasoning before the action,
// without the Thought:/Action: labels.
func extractThought(before string) string {
	s := strings.TrimSpace(before)
	s = strings.TrimSuffix(s, "Action:")
	s = strings.TrimSuffix(s, "Acton:")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Thought:")
	return strings.Join(strings.Fields(s), " ")
}

// coerceInput turns action_input into the object the schema checks.
// Numbers become canonical decimal strings. A bare scalar is accepted
// for a tool with exactly one parameter.
func coerceInput(tool *tools.Tool, raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ParseError{Reason: "action_input is not valid JSON", Err: err}
	}

	switch val := v.(type) {
	case map[string]any:
		for k, x := range val {
			if n, ok := x.(json.Number); ok {
				val[k] = canonicalNumber(n)
			}
		}
		return val, nil
	case string, json.Number:
		if len(tool.Params) != 1 {
			return nil, &ParseError{Reason: fmt.Sprintf("action_input for %s must be an object with keys %s", tool.Name, paramNames(tool))}
		}
		s, ok := val.(string)
		if !ok {
			s = canonicalNumber(val.(json.Number))
		}
		return map[string]any{tool.Params[0].Name: s}, nil
	default:
		return nil, &ParseError{Reason: fmt.Sprintf("action_input for %s must be an object with keys %s", tool.Name, paramNames(tool))}
	}
}

func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return n.String()
}

func paramNames(t *tools.Tool) string {
	names := make([]string, len(t.Params))
	for i, p := range t.Params {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}
