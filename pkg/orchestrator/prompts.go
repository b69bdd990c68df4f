package orchestrator

import (
	"fmt"

	"github.com/NexeraDigital/get-shit-done/pkg/config"
	"github.com/NexeraDigital/get-shit-done/pkg/state"
)

// The prompt templates are the contract between the orchestrator and the
// agent's workflow scripts: each tells the agent which command to run and
// which machine-readable block to end its answer with.

const roadmapTemplate = `Read the product brief below and produce the project roadmap.

Break the work into cohesive phases, each a milestone that can be discussed,
planned, executed, and verified independently. Depth: %s.

End your answer with a fenced JSON block of the form:

` + "```json" + `
{"phases": [{"number": 1, "name": "..."}]}
` + "```" + `

Product brief:

%s`

const discussTemplate = `Run the discuss step for phase %d (%s).

Surface the open product and design decisions this phase depends on. When a
decision needs human input, ask through the ask-user-question tool; batch
related decisions into one question with two or three items. Record the
agreed decisions in the phase context.`

const planTemplate = `Run the plan step for phase %d (%s).

Produce an implementation plan for this phase based on the roadmap and the
phase context. List concrete tasks with file-level detail.`

const planGapTemplate = `Run the plan step for phase %d (%s), gap iteration %d.

Verification found unmet requirements. Revise the plan to close these gaps:

%s`

const executeTemplate = `Run the execute step for phase %d (%s).

Implement the current plan. Commit completed work as you go. If an
irreversible decision needs human input, ask through the ask-user-question
tool. End your answer with a fenced JSON block listing the commits you made:

` + "```json" + `
{"commits": [{"hash": "...", "message": "..."}]}
` + "```"

const verifyTemplate = `Run the verify step for phase %d (%s).

Check the implemented work against the phase requirements. End your answer
with a fenced JSON block of the form:

` + "```json" + `
{"verdict": "passed"}
` + "```" + `

where verdict is one of "passed", "gaps_found", or "human_needed". For
gaps_found, list every unmet requirement before the block.`

const completeTemplate = `All roadmap phases are complete. Run the milestone
completion command: summarize what was built, note follow-up work worth
doing next, and leave the repository in a releasable state.`

func roadmapPrompt(brief string, depth config.Depth) string {
	return fmt.Sprintf(roadmapTemplate, depth, brief)
}

func discussPrompt(p state.Phase) string {
	return fmt.Sprintf(discussTemplate, p.Number, p.Name)
}

func planPrompt(p state.Phase, gaps string) string {
	if p.GapIterations > 0 && gaps != "" {
		return fmt.Sprintf(planGapTemplate, p.Number, p.Name, p.GapIterations, gaps)
	}
	return fmt.Sprintf(planTemplate, p.Number, p.Name)
}

func executePrompt(p state.Phase) string {
	return fmt.Sprintf(executeTemplate, p.Number, p.Name)
}

func verifyPrompt(p state.Phase) string {
	return fmt.Sprintf(verifyTemplate, p.Number, p.Name)
}

func completePrompt() string {
	return completeTemplate
}

// defaultContextText is written as the phase context when discuss is skipped.
const defaultContextText = `# Phase context

The discuss step was skipped for this phase. All open product and design
decisions are left to the agent's discretion; prefer the simplest option
consistent with the product brief and the existing codebase.
`
