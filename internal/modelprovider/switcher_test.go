package modelprovider_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/vms-watch/internal/modelprovider"
)

type stubProvider struct {
	out modelprovider.VideoIngestorOutput
	err error
}

func (s stubProvider) Generate(ctx context.Context, imageJPEGBase64, prompt string, schema json.RawMessage) (modelprovider.VideoIngestorOutput, error) {
	return s.out, s.err
}

func TestSwitcher_Swap(t *testing.T) {
	first := stubProvider{out: modelprovider.VideoIngestorOutput{SystemActions: []modelprovider.SystemAction{{TakeAction: "first"}}}}
	second := stubProvider{out: modelprovider.VideoIngestorOutput{SystemActions: []modelprovider.SystemAction{{TakeAction: "second"}}}}

	sw := modelprovider.NewSwitcher(first)
	out, err := sw.Generate(context.Background(), "", "", nil)
	require.NoError(t, err)
	require.Equal(t, "first", out.SystemActions[0].TakeAction)

	sw.Swap(second)
	out, err = sw.Generate(context.Background(), "", "", nil)
	require.NoError(t, err)
	require.Equal(t, "second", out.SystemActions[0].TakeAction)
}

func TestSwitcher_NoProviderConfigured(t *testing.T) {
	sw := &modelprovider.Switcher{}
	_, err := sw.Generate(context.Background(), "", "", nil)
	require.Error(t, err)
}
