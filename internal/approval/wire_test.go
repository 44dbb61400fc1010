/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubmission(t *testing.T) {
	raw := []byte(`{
		"nonce": "abcd1234",
		"decisions": [
			{"tool_call_id": "c1", "approved": true},
			{"tool_call_id": "c2", "approved": false, "denial_message": "nope"}
		]
	}`)
	payload, err := ParseSubmission(raw)
	require.NoError(t, err)
	assert.Equal(t, "abcd1234", payload.Nonce)
	require.Len(t, payload.Decisions, 2)
	assert.True(t, payload.Decisions[0].Approved)
	assert.Equal(t, "nope", payload.Decisions[1].DenialMessage)
	assert.Equal(t, []string{"c1", "c2"}, payload.ToolCallIDs())
}

func TestParseSubmissionRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"nonce": `,
		"unknown field":   `{"nonce":"n","decisions":[{"tool_call_id":"c1","approved":true}],"extra":1}`,
		"trailing data":   `{"nonce":"n","decisions":[{"tool_call_id":"c1","approved":true}]}{}`,
		"missing nonce":   `{"decisions":[{"tool_call_id":"c1","approved":true}]}`,
		"empty decisions": `{"nonce":"n","decisions":[]}`,
		"missing call id": `{"nonce":"n","decisions":[{"approved":true}]}`,
		"duplicate id":    `{"nonce":"n","decisions":[{"tool_call_id":"c1","approved":true},{"tool_call_id":"c1","approved":false}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSubmission([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidSubmission)
		})
	}
}
