package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nugget/charmbot/internal/prompts"
)

// cannedOutputs mixes tool calls, malformed output and replies. Index
// finalIndex is the only reply.
var cannedOutputs = []string{
	call("get_order_status", `{"order_id": "2743"}`),
	"I am thinking about it.",
	"```\n{\"action\": \"refund_all\", \"action_input\": {}}\n```",
	"```\n{\"action\": \"get_order_status\"\n```",
	call("send_voucher_email", `{"email_to": "a@b.c", "email_subject": "s", "email_body": "b"}`),
	answer("Here is your answer."),
}

const finalIndex = 5

func scriptFrom(idx []int) []string {
	out := make([]string, len(idx))
	for i, n := range idx {
		out[i] = cannedOutputs[n]
	}
	return out
}

func TestLoop_Properties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	const maxIter = 6
	reg := testRegistry(t)
	scripts := gen.SliceOf(gen.IntRange(0, len(cannedOutputs)-1))

	properties.Property("every turn ends within the cap with a reply", prop.ForAll(
		func(idx []int) bool {
			model := &scriptedLLM{outputs: scriptFrom(idx)}
			res := NewLoop(model, reg, nil, Config{MaxIterations: maxIter}, quietLogger()).
				Run(context.Background(), nil, "hello")

			if res.Reply == "" || res.Iterations > maxIter || model.calls() > maxIter {
				return false
			}
			first := -1
			for i, n := range idx {
				if n == finalIndex {
					first = i
					break
				}
			}
			if first >= 0 && first < maxIter {
				return res.Outcome == OutcomeResponded && res.Iterations == first+1 && res.Reply == "Here is your answer."
			}
			return res.Outcome == OutcomeIterationCap && res.Reply == prompts.DefaultFallbackReply
		},
		scripts,
	))

	properties.Property("each prompt extends the previous by one step", prop.ForAll(
		func(idx []int) bool {
			model := &scriptedLLM{outputs: scriptFrom(idx)}
			res := NewLoop(model, reg, nil, Config{MaxIterations: maxIter}, quietLogger()).
				Run(context.Background(), nil, "hello")

			ps := model.prompts
			base := strings.Count(ps[0], "\nObservation: ")
			for k := 1; k < len(ps); k++ {
				if !strings.HasPrefix(ps[k], strings.TrimSuffix(ps[k-1], "Thought:")) {
					return false
				}
				if strings.Count(ps[k], "\nObservation: ")-base != k {
					return false
				}
			}
			return len(res.Scratchpad) == len(ps)-1 || res.Outcome == OutcomeIterationCap && len(res.Scratchpad) == len(ps)
		},
		scripts,
	))

	properties.TestingRun(t)
}
