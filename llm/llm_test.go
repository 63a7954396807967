package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverser struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverser) Converse(ctx context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = in
	return f.out, f.err
}

func textOutput(s string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: s}},
			},
		},
	}
}

func TestBedrockModel_Complete(t *testing.T) {
	fc := &fakeConverser{out: textOutput(`  {"action":"back"}  `)}
	m := newBedrockModel(fc, "anthropic.claude-test", 0)

	reply, err := m.Complete(context.Background(), Request{
		System:  "be brief",
		History: []Message{{Role: RoleUser, Text: "step 1"}, {Role: RoleAssistant, Text: `{"action":"tap"}`}},
		Text:    "step 2",
		Image:   []byte{1, 2, 3},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"back"}`, reply)

	in := fc.input
	require.NotNil(t, in)
	assert.Equal(t, "anthropic.claude-test", aws.ToString(in.ModelId))
	assert.Equal(t, int32(defaultMaxTokens), aws.ToInt32(in.InferenceConfig.MaxTokens))
	require.Len(t, in.System, 1)
	require.Len(t, in.Messages, 3)
	assert.Equal(t, types.ConversationRoleAssistant, in.Messages[1].Role)

	last := in.Messages[2]
	require.Len(t, last.Content, 2)
	img, ok := last.Content[0].(*types.ContentBlockMemberImage)
	require.True(t, ok)
	assert.Equal(t, types.ImageFormatPng, img.Value.Format)
	text, ok := last.Content[1].(*types.ContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "step 2", text.Value)
}

func TestBedrockModel_Errors(t *testing.T) {
	m := newBedrockModel(&fakeConverser{err: errors.New("throttled")}, "m", 10)
	_, err := m.Complete(context.Background(), Request{Text: "x"})
	assert.ErrorContains(t, err, "throttled")

	m = newBedrockModel(&fakeConverser{out: textOutput("   ")}, "m", 10)
	_, err = m.Complete(context.Background(), Request{Text: "x"})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestOpenRouterModel_Complete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"action\":\"done\"}"}}]}`))
	}))
	defer srv.Close()

	m := NewOpenRouterModel("key-1", "google/gemini-test", srv.URL+"/")
	reply, err := m.Complete(context.Background(), Request{System: "sys", Text: "hello", Image: []byte("png")})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"done"}`, reply)
	assert.Equal(t, "google/gemini-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)

	parts, ok := got.Messages[1].Content.([]interface{})
	require.True(t, ok)
	require.Len(t, parts, 2)
	image := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	assert.True(t, strings.HasPrefix(image["url"].(string), "data:image/png;base64,"))
}

func TestOpenRouterModel_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(strings.Repeat("slow down ", 100)))
	}))
	defer srv.Close()

	_, err := NewOpenRouterModel("", "m", srv.URL).Complete(context.Background(), Request{Text: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.LessOrEqual(t, len(apiErr.Error()), 360)
}

func TestNew(t *testing.T) {
	m, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = New(context.Background(), Config{Provider: "openrouter", ModelID: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", m.ID())

	_, err = New(context.Background(), Config{Provider: "carrier-pigeon", ModelID: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}
