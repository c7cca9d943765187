package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractDirective(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantText   string
		wantAction string
	}{
		{
			name:     "plain text",
			in:       "The nearest police station is on MG Road.",
			wantText: "The nearest police station is on MG Road.",
		},
		{
			name:       "fenced json block",
			in:         "Sure, opening it now.\n```json\n{\"action\": \"FILE_COMPLAINT\"}\n```",
			wantText:   "Sure, opening it now.",
			wantAction: `{"action": "FILE_COMPLAINT"}`,
		},
		{
			name:       "untagged fence",
			in:         "```\n{\"action\":\"PINCODE_SEARCH\",\"pincode\":400001}\n```\nLet me check.",
			wantText:   "Let me check.",
			wantAction: `{"action":"PINCODE_SEARCH","pincode":400001}`,
		},
		{
			name:       "whole reply is the directive",
			in:         `  {"action":"LOCATE_ME"}  `,
			wantText:   "",
			wantAction: `{"action":"LOCATE_ME"}`,
		},
		{
			name:     "fenced json without action stays in text",
			in:       "Example:\n```json\n{\"office\": \"GPO\"}\n```",
			wantText: "Example:\n```json\n{\"office\": \"GPO\"}\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, action := ExtractDirective(tt.in)
			assert.Equal(t, tt.wantText, text)
			if tt.wantAction == "" {
				assert.Nil(t, action)
			} else {
				assert.JSONEq(t, tt.wantAction, string(action))
			}
		})
	}
}
