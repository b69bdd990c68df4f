package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Verdict
	}{
		{
			name: "fenced json",
			text: "Everything checks out.\n```json\n{\"verdict\": \"passed\"}\n```\n",
			want: VerdictPassed,
		},
		{
			name: "fenced json without language tag",
			text: "```\n{\"verdict\": \"gaps_found\"}\n```",
			want: VerdictGapsFound,
		},
		{
			name: "fenced json uppercase",
			text: "```json\n{\"verdict\": \"PASSED\"}\n```",
			want: VerdictPassed,
		},
		{
			name: "last fenced block wins when earlier ones lack a verdict",
			text: "```json\n{\"notes\": \"checked 12 files\"}\n```\nthen\n```json\n{\"verdict\": \"human_needed\"}\n```",
			want: VerdictHumanNeeded,
		},
		{
			name: "verdict tag",
			text: "Checked the build.\n<verdict>gaps_found</verdict>",
			want: VerdictGapsFound,
		},
		{
			name: "bare keyword",
			text: "verification passed, nothing else to do",
			want: VerdictPassed,
		},
		{
			name: "gaps keyword beats passed keyword",
			text: "some checks passed but overall gaps_found",
			want: VerdictGapsFound,
		},
		{
			name: "human keyword dominates",
			text: "passed partially, gaps_found, but really human_needed",
			want: VerdictHumanNeeded,
		},
		{
			name: "unknown fenced verdict falls back to human",
			text: "```json\n{\"verdict\": \"maybe\"}\n```",
			want: VerdictHumanNeeded,
		},
		{
			name: "empty text falls back to human",
			text: "",
			want: VerdictHumanNeeded,
		},
		{
			name: "unrelated prose falls back to human",
			text: "I could not run the verification checks.",
			want: VerdictHumanNeeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVerdict(tt.text))
		})
	}
}
