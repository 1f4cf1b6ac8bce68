package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	calls  int
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.lastIn = in
	return f.getOut, f.getErr
}

func TestGetParameterDecryptsAndCaches(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: aws.String("/frontdesk/voice"), Value: aws.String("s3cret"), Type: types.ParameterTypeSecureString,
	}}}
	c, err := New(api)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		v, err := c.GetParameter(context.Background(), " /frontdesk/voice ")
		require.NoError(t, err)
		require.Equal(t, "s3cret", v)
	}
	require.Equal(t, 1, api.calls)
	require.True(t, aws.ToBool(api.lastIn.WithDecryption))
	require.Equal(t, "/frontdesk/voice", aws.ToString(api.lastIn.Name))
}

func TestGetParameterErrors(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	c, err := New(&fakeAPI{getErr: errors.New("boom")})
	require.NoError(t, err)
	_, err = c.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")

	_, err = c.GetParameter(context.Background(), "  ")
	require.Error(t, err)

	c, err = New(&fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: aws.String("p")}}})
	require.NoError(t, err)
	_, err = c.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "no value")
}

func TestSecret(t *testing.T) {
	ctx := context.Background()
	v, err := Secret(ctx, nil, "inline", "/ignored")
	require.NoError(t, err)
	require.Equal(t, "inline", v)

	v, err = Secret(ctx, nil, "", "")
	require.NoError(t, err)
	require.Empty(t, v)

	_, err = Secret(ctx, nil, "", "/frontdesk/voice")
	require.Error(t, err)

	c, err := New(&fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String("from-ssm")}}})
	require.NoError(t, err)
	v, err = Secret(ctx, c, "", "/frontdesk/voice")
	require.NoError(t, err)
	require.Equal(t, "from-ssm", v)
}
