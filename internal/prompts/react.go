package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FinalAnswer is the action name that ends a turn with a reply.
const FinalAnswer = "Final Answer"

// ToolArg is one parameter in the tool catalog.
type ToolArg struct {
	Name        string
	Description string
	Required    bool
}

// ToolEntry is one tool in the catalog.
type ToolEntry struct {
	Name        string
	Description string
	Args        []ToolArg
}

// Speaker identifies who said a history line.
type Speaker int

const (
	SpeakerCustomer Speaker = iota
	SpeakerAgent
)

// HistoryEntry is one earlier message in the conversation.
type HistoryEntry struct {
	Speaker Speaker
	Text    string
}

// Step is one completed think/act/observe cycle. Action is the
// canonical JSON action block.
type Step struct {
	Thought     string `json:"thought,omitempty"`
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

// ReActInput holds everything the reasoning prompt depends on.
type ReActInput struct {
	Policy       string
	Tools        []ToolEntry
	History      []HistoryEntry
	HistoryTurns int // customer turns kept; 0 keeps all
	Scratchpad   []Step
	Passage      string
	Message      string
}

const formatTemplate = `You have access to the following tools:

%s

Use a json blob to specify a tool by providing an action key (tool name) and an action_input key (tool input).

Valid "action" values: %s ONLY

Provide only ONE action per $JSON_BLOB, as shown:

` + "```" + `
{
  "action": $TOOL_NAME,
  "action_input": $INPUT
}
` + "```" + `

Follow this format:

RAG: gives extra info relevant to question
Question: input question to answer
Thought: consider previous and subsequent steps
Action:
` + "```" + `
{
  "action": $TOOL_NAME,
  "action_input": $INPUT
}
` + "```" + `
Observation: action result
... (repeat Thought/Action/Observation N times)
Thought: I know what to respond
Action:
` + "```" + `
{
  "action": "Final Answer",
  "action_input": "response to customer"
}
` + "```" + `

"Final Answer" is the message sent back to the customer so they can respond to you.

Begin! This is a conversation, hence you should first ask the customer for missing information via "Final Answer" rather than using a tool immediately. Only take an action when all required details are provided. ALWAYS respond with a valid json blob of a single action. Format is Action:` + "```" + `$JSON_BLOB` + "```" + `then Observation`

const questionTemplate = `RAG: %s
Question: %s
Thought: If necessary details (such as an order number) are missing, ask the customer using "Final Answer" before using tools.`

// ReAct renders the full reasoning prompt. The output depends only on
// in, so equal inputs always produce byte-identical prompts.
func ReAct(in ReActInput) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(in.Policy))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, formatTemplate, renderCatalog(in.Tools), renderActionNames(in.Tools))

	history := historyTail(in.History, in.HistoryTurns)
	if len(history) > 0 {
		b.WriteString("\n\nConversation so far:\n")
		for _, h := range history {
			switch h.Speaker {
			case SpeakerCustomer:
				b.WriteString("Customer: ")
			default:
				b.WriteString("Charmbot: ")
			}
			b.WriteString(h.Text)
			b.WriteString("\n")
		}
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, questionTemplate, oneLine(in.Passage), in.Message)
	b.WriteString("\n")
	b.WriteString(Scratchpad(in.Scratchpad))
	return b.String()
}

// Scratchpad renders completed steps as Thought/Action/Observation
// lines followed by a Thought cue for the next step.
func Scratchpad(steps []Step) string {
	if len(steps) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range steps {
		if s.Thought != "" {
			fmt.Fprintf(&b, "Thought: %s\n", s.Thought)
		}
		b.WriteString("Action:\n```\n")
		b.WriteString(s.Action)
		b.WriteString("\n```\n")
		fmt.Fprintf(&b, "Observation: %s\n", s.Observation)
	}
	b.WriteString("Thought:")
	return b.String()
}

// InvalidResponse is the observation fed back when the model's output
// cannot be parsed into a single valid action.
func InvalidResponse(reason string) string {
	return fmt.Sprintf("Invalid or incomplete response: %s. Retry with a single valid action.", reason)
}

func renderCatalog(tools []ToolEntry) string {
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]map[string]string, len(t.Args))
		var required []string
		for _, a := range t.Args {
			props[a.Name] = map[string]string{"type": "string", "description": a.Description}
			if a.Required {
				required = append(required, a.Name)
			}
		}
		// encoding/json sorts map keys, which keeps the catalog stable.
		args, _ := json.Marshal(props)
		line := fmt.Sprintf("%s: %s, args: %s", t.Name, t.Description, args)
		if len(required) > 0 {
			line += ", required: " + strings.Join(required, ", ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderActionNames(tools []ToolEntry) string {
	names := make([]string, 0, len(tools)+1)
	names = append(names, fmt.Sprintf("%q", FinalAnswer))
	for _, t := range tools {
		names = append(names, fmt.Sprintf("%q", t.Name))
	}
	return strings.Join(names, ", ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// historyTail returns the entries of the last turns customer turns. A
// turn starts at a customer entry and includes the replies after it.
func historyTail(history []HistoryEntry, turns int) []HistoryEntry {
	if turns <= 0 {
		return history
	}
	seen := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Speaker != SpeakerCustomer {
			continue
		}
		seen++
		if seen == turns {
			return history[i:]
		}
	}
	return history
}
