package analysis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-mail-reply-go/internal/llm"
)

func ollamaServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server) *llm.Client {
	t.Helper()
	c, err := llm.NewClient(llm.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestAnalyzeParsesModelJSON(t *testing.T) {
	srv := ollamaServer(t, http.StatusOK, `{"response":"{\"intent\":\"REQUEST\",\"sentiment\":\"Neutral\",\"summary\":\"wants a form\",\"confidence\":\"High\",\"suggested_action\":\"send form\"}","done":true}`)
	a := NewLLMAnalyzer(newClient(t, srv), "llama3", nil)

	got := a.Analyze(context.Background(), "please send me the nomination form")

	assert.Equal(t, "REQUEST", got.Intent)
	assert.Equal(t, "Neutral", got.Sentiment)
	assert.Equal(t, "wants a form", got.Summary)
	assert.Equal(t, "High", got.Confidence)
	assert.Equal(t, "send form", got.SuggestedAction)
}

func TestAnalyzeFallsBack(t *testing.T) {
	tests := map[string]*httptest.Server{
		"server error": ollamaServer(t, http.StatusInternalServerError, "boom"),
		"not json":     ollamaServer(t, http.StatusOK, `{"response":"I think it is a request","done":true}`),
		"no intent":    ollamaServer(t, http.StatusOK, `{"response":"{\"sentiment\":\"Positive\"}","done":true}`),
	}

	for name, srv := range tests {
		t.Run(name, func(t *testing.T) {
			a := NewLLMAnalyzer(newClient(t, srv), "llama3", nil)
			assert.Equal(t, Fallback(), a.Analyze(context.Background(), "text"))
		})
	}
}

type panickingGenerator struct{}

func (panickingGenerator) Generate(context.Context, llm.GenerateRequest) (string, error) {
	panic("model crashed")
}

func TestAnalyzeRecoversPanic(t *testing.T) {
	a := NewLLMAnalyzer(panickingGenerator{}, "llama3", nil)
	assert.Equal(t, Fallback(), a.Analyze(context.Background(), "text"))
}

func TestFallbackFields(t *testing.T) {
	fb := Fallback()
	assert.Equal(t, "Unknown", fb.Intent)
	assert.Equal(t, "Neutral", fb.Sentiment)
	assert.Equal(t, "Low", fb.Confidence)
	assert.Empty(t, fb.Summary)
	assert.Equal(t, "Manual Review Required (AI Error)", fb.SuggestedAction)
	assert.Empty(t, fb.Priority)
}

type recordingGenerator struct {
	prompt string
	reply  string
}

func (g *recordingGenerator) Generate(_ context.Context, req llm.GenerateRequest) (string, error) {
	g.prompt = req.Prompt
	return g.reply, nil
}

type stubRetriever struct {
	passages []string
	err      error
	query    string
}

func (r *stubRetriever) Retrieve(_ context.Context, query string) ([]string, error) {
	r.query = query
	return r.passages, r.err
}

const validReply = `{"intent":"CLAIM_RELATED","sentiment":"Negative","summary":"asks about a death claim","confidence":"High","suggested_action":"send claim form 3783"}`

func TestAnalyzePutsPolicyContextInPrompt(t *testing.T) {
	gen := &recordingGenerator{reply: validReply}
	ret := &stubRetriever{passages: []string{"Death claims need form 3783.", "Claims settle within 30 days."}}
	a := NewLLMAnalyzer(gen, "llama3", ret)

	got := a.Analyze(context.Background(), "my father passed away, how do I claim")

	assert.Equal(t, "CLAIM_RELATED", got.Intent)
	assert.Equal(t, "my father passed away, how do I claim", ret.query)
	assert.Contains(t, gen.prompt, "CONTEXT from LIC Policies:\nDeath claims need form 3783.\n\nClaims settle within 30 days.")
	assert.Contains(t, gen.prompt, "EMAIL CONTENT (Redacted):\nmy father passed away, how do I claim")
}

func TestAnalyzeSurvivesRetrieverFailure(t *testing.T) {
	gen := &recordingGenerator{reply: validReply}
	a := NewLLMAnalyzer(gen, "llama3", &stubRetriever{err: errors.New("index unavailable")})

	got := a.Analyze(context.Background(), "claim status please")

	assert.Equal(t, "CLAIM_RELATED", got.Intent)
	assert.Equal(t, "asks about a death claim", got.Summary)
	assert.Contains(t, gen.prompt, "CONTEXT from LIC Policies:\n"+noPolicyContext)
}

func TestAnalyzeWithoutRetriever(t *testing.T) {
	gen := &recordingGenerator{reply: validReply}
	got := NewLLMAnalyzer(gen, "llama3", nil).Analyze(context.Background(), "hello")

	assert.Equal(t, "CLAIM_RELATED", got.Intent)
	assert.Contains(t, gen.prompt, noPolicyContext)
}

func TestParseStripsFences(t *testing.T) {
	got, err := Parse("```json\n{\"intent\":\"APPRECIATION\",\"priority\":\"HIGH\"}\n```")
	assert.NoError(t, err)
	assert.Equal(t, "APPRECIATION", got.Intent)
	assert.Equal(t, "Neutral", got.Sentiment)
	assert.Equal(t, "Low", got.Confidence)
	assert.Empty(t, got.Priority)
}
