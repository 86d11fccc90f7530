package modelprovider_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/vms-watch/internal/modelprovider"
)

func TestParseOutput_StripsMarkdownFence(t *testing.T) {
	raw := "```json\n{\"task_updates\":[{\"task_number\":0,\"task_note\":\"hi\",\"task_done\":false}],\"system_actions\":[]}\n```"
	out, err := modelprovider.ParseOutput(raw)
	require.NoError(t, err)
	require.Len(t, out.TaskUpdates, 1)
	require.Equal(t, "hi", out.TaskUpdates[0].TaskNote)
}

func TestParseOutput_Empty(t *testing.T) {
	_, err := modelprovider.ParseOutput("")
	require.Error(t, err)
	var vlmErr *modelprovider.VLMError
	require.ErrorAs(t, err, &vlmErr)
	require.Equal(t, modelprovider.ErrEmpty, vlmErr.Kind)
}

func TestParseOutput_RejectsUnknownFields(t *testing.T) {
	_, err := modelprovider.ParseOutput(`{"task_updates":[],"system_actions":[],"bogus":1}`)
	require.Error(t, err)
	var vlmErr *modelprovider.VLMError
	require.ErrorAs(t, err, &vlmErr)
	require.Equal(t, modelprovider.ErrParse, vlmErr.Kind)
}

func TestParseOutput_BareJSON(t *testing.T) {
	out, err := modelprovider.ParseOutput(`{"task_updates":[],"system_actions":[{"take_action":"open_door"}]}`)
	require.NoError(t, err)
	require.Len(t, out.SystemActions, 1)
	require.Equal(t, "open_door", out.SystemActions[0].TakeAction)
}

func TestNew_UnrecognizedModel(t *testing.T) {
	_, err := modelprovider.New("not-a-real-model", modelprovider.Credentials{}, nil)
	require.Error(t, err)
	var vlmErr *modelprovider.VLMError
	require.ErrorAs(t, err, &vlmErr)
	require.Equal(t, modelprovider.ErrConfig, vlmErr.Kind)
}

func TestNew_MissingCredential(t *testing.T) {
	_, err := modelprovider.New("gpt-4o-mini", modelprovider.Credentials{}, nil)
	require.Error(t, err)
	var vlmErr *modelprovider.VLMError
	require.ErrorAs(t, err, &vlmErr)
	require.Equal(t, modelprovider.ErrConfig, vlmErr.Kind)
}
