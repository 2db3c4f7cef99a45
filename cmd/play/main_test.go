package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talehopper/pkg/client"
	"talehopper/pkg/schema"
	"talehopper/pkg/session"
)

func TestPick(t *testing.T) {
	choices := []string{"Open the door", "Climb the tree"}

	got, ok := pick("2", choices)
	assert.True(t, ok)
	assert.Equal(t, "Climb the tree", got)

	got, ok = pick("open door", choices)
	assert.True(t, ok)
	assert.Equal(t, "Open the door", got)

	_, ok = pick("3", choices)
	assert.False(t, ok)
	_, ok = pick("fly away on a rocket", choices)
	assert.False(t, ok)
}

func storyServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req schema.StoryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		history := append(req.History, fmt.Sprintf("Paragraph %d after %q.", len(req.History)+1, req.Choice))
		choices := []string{"Open the door", "Climb the tree"}
		if len(history) >= req.Prompt.Length {
			choices = []string{}
		}
		_ = json.NewEncoder(w).Encode(schema.StoryResponse{History: history, Choices: choices})
	}))
}

func TestPlayerRun(t *testing.T) {
	srv := storyServer(t)
	defer srv.Close()

	dir := t.TempDir()
	var out bytes.Buffer
	p := &player{
		in:     bufio.NewScanner(strings.NewReader("2\nclimb tree\ns\nq\n")),
		out:    &out,
		client: client.New(srv.URL, time.Second),
		outDir: dir,
	}
	p.ctrl = session.New(p.client, log.New(&bytes.Buffer{}))

	err := p.run(context.Background(), schema.Prompt{Age: 6, Language: schema.English, Length: 3})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Paragraph 1")
	assert.Contains(t, text, `Paragraph 2 after "Climb the tree".`)
	assert.Contains(t, text, "The End.")
	assert.Contains(t, text, "Saved to")

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ended": true`)
}

func TestAskPromptAddsCharacters(t *testing.T) {
	var out bytes.Buffer
	p := &player{
		in:  bufio.NewScanner(strings.NewReader("9\n\n4\nforest\n\n\n\n\n\nMia:fox\nbad\n\n")),
		out: &out,
	}
	got, err := p.askPrompt(schema.Prompt{Age: 7, Language: schema.English, Length: 5})
	require.NoError(t, err)

	assert.Equal(t, 9, got.Age)
	assert.Equal(t, schema.English, got.Language)
	assert.Equal(t, 4, got.Length)
	assert.Equal(t, "forest", got.Environment)
	assert.Empty(t, got.Tone)
	assert.Equal(t, []schema.Character{{Name: "Mia", Type: "fox"}}, got.Characters)
	assert.Contains(t, out.String(), "A character needs a name and a type.")
	assert.Contains(t, out.String(), `"environment": "forest"`)
}

func TestAskPromptOptionalFields(t *testing.T) {
	var out bytes.Buffer
	p := &player{
		in:  bufio.NewScanner(strings.NewReader("\n\n\n\n\ngrim\nSilly\nlost item\n-\n\nMia:fox:girl:brave\n\n")),
		out: &out,
	}
	got, err := p.askPrompt(schema.Prompt{Age: 7, Language: schema.English, Length: 5, EndingStyle: schema.EndingTwist})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Pick one of friendly, silly, adventurous, mysterious, wholesome.")

	norm, err := schema.ValidatePrompt(got)
	require.NoError(t, err)
	assert.Equal(t, schema.ToneSilly, norm.Tone)
	assert.Equal(t, schema.ConflictLostItem, norm.ConflictType)
	assert.Empty(t, norm.EndingStyle)
	assert.Equal(t, []schema.Character{{Name: "Mia", Type: "fox", Gender: "girl", Personality: "brave"}}, norm.Characters)
}

func TestAskPromptEOF(t *testing.T) {
	p := &player{in: bufio.NewScanner(strings.NewReader("8\n")), out: &bytes.Buffer{}}
	_, err := p.askPrompt(schema.Prompt{Age: 7, Language: schema.English, Length: 5})
	assert.Error(t, err)
}
