// Package prompts contains the prompt text Charmbot sends to the model.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation and can be validated by tests. The
// persona text can be replaced at runtime through agent.policy_file in
// config.yaml; the output-format instructions cannot.
//
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the interpolated
// prompt string.
package prompts
